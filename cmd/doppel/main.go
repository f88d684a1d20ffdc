// Command doppel runs the Slack doppel bot: the HTTP server for Slack
// callbacks and the jobs API, plus operator subcommands for training a user
// directly, listing jobs and migrating the schema.
//
// @title       Doppel Bot API
// @version     1.0
// @description Read-only view of the doppel bot's training jobs.
// @BasePath    /api/v1
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-doppel-bot/internal/config"
	"github.com/tbourn/go-doppel-bot/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           "doppel",
		Short:         "Slack bot that answers as a trained copy of a teammate",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal outside local development.
			_ = godotenv.Load()

			loaded, err := config.Load()
			if err != nil {
				return err
			}
			cfg = loaded
			sysutil.SetLogLevel(cfg.LogLevel)
			sysutil.SetupLogger(cmd.ErrOrStderr(), cfg.LogPretty, cfg.OTEL.ServiceName)
			return nil
		},
	}
	root.Version = sysutil.FirstNonEmpty(os.Getenv("DOPPEL_VERSION"), version)

	cfgFn := func() config.Config { return cfg }
	root.AddCommand(
		newServeCmd(cfgFn),
		newTrainCmd(cfgFn),
		newJobsCmd(cfgFn),
		newMigrateCmd(cfgFn),
	)
	return root
}
