package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-doppel-bot/internal/config"
	"github.com/tbourn/go-doppel-bot/internal/services"
)

func newTrainCmd(cfgFn func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "train <team_id> <user>",
		Short: "Train a user's model synchronously, printing progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFn()
			ctx := cmd.Context()

			st, err := openStores(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer st.Close()

			a, err := newApp(cfg, st)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			res, err := a.Training.Run(ctx, args[0], args[1], cfg.Slack.BotToken, func(msg string) {
				fmt.Fprintln(out, msg)
			})
			if err != nil {
				return err
			}
			if res.Outcome == services.OutcomeAlreadyRegistered {
				return fmt.Errorf("%s is already %s", args[1], res.Existing.State)
			}
			return nil
		},
	}
}
