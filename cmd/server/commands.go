package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"habilitations/internal/guard"
	"habilitations/internal/models"
	"habilitations/internal/version"
)

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the protected page table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tACCESS\tLABEL")
			for _, r := range guard.Routes() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Path, r.Access, r.Label)
			}
			return tw.Flush()
		},
	}
}

func newAuditCmd() *cobra.Command {
	var (
		actor  string
		action string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent console journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}
			journal, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer journal.Close()

			entries, err := journal.List(cmd.Context(), models.AuditQuery{ActorCP: actor, Action: action, Limit: limit})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tTARGET\tOUTCOME\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.ActorCP, e.Action, e.Target, e.Outcome, e.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "only entries by this CP")
	cmd.Flags().StringVar(&action, "action", "", "only this action (e.g. agent.delete)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of entries")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Current())
		},
	}
}
