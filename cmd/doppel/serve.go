package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-doppel-bot/internal/config"
	httpapi "github.com/tbourn/go-doppel-bot/internal/http"
	"github.com/tbourn/go-doppel-bot/internal/http/handlers"
	"github.com/tbourn/go-doppel-bot/internal/observability"
)

func newServeCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve Slack callbacks and the jobs API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfgFn(), cmd.Root().Version)
		},
	}
}

// serve runs the HTTP server until ctx ends, then stops accepting requests,
// drains in-flight mention replies and training runs, and flushes traces.
func serve(ctx context.Context, cfg config.Config, version string) error {
	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	a, err := newApp(cfg, st)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, handlers.New(handlers.Deps{
		Jobs:           a.Jobs,
		Mentions:       a.Mentions,
		Commands:       a.Commands,
		Events:         st.Events,
		Runner:         a.Runner,
		MentionTimeout: cfg.MentionTimeout,
		ReceiptTTL:     cfg.EventReceiptTTL,
	}), cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.Store.Driver).
			Bool("slack_verification", cfg.Slack.SigningSecret != "").
			Msg("doppel listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		if err := a.Runner.Wait(sctx); err != nil {
			log.Warn().Err(err).Msg("background work still running at shutdown")
			errs = append(errs, err)
		}
		if err := otelShutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
