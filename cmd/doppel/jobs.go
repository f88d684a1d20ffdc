package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-doppel-bot/internal/config"
	"github.com/tbourn/go-doppel-bot/internal/services"
	"github.com/tbourn/go-doppel-bot/internal/utils"
)

func newJobsCmd(cfgFn func() config.Config) *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "jobs <team_id>",
		Short: "List a team's training jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStores(cmd.Context(), cfgFn().Store)
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, total, err := services.NewJobService(st.Jobs).ListPage(cmd.Context(), args[0], page, size)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tSTATE\tSAMPLES\tUPDATED")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", j.UserKey, j.State, j.Samples, j.UpdatedAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d (%d jobs)\n", max(page, 1), utils.TotalPages(total, size), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "page-size", utils.DefaultPageSize, "jobs per page")
	return cmd
}
