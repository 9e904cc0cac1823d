package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"easel/internal/journal"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recently finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := ctx.baseURL()
			if err != nil {
				return err
			}
			var payload struct {
				Jobs []journal.Entry `json:"jobs"`
			}
			if err := fetchJSON(baseURL, fmt.Sprintf("/api/jobs?limit=%d", limit), &payload); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, payload)
			}
			if len(payload.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No finished jobs")
				return nil
			}

			t := newTable(cmd)
			t.AppendHeader(table.Row{"Job", "Session", "Status", "Quality", "Degraded", "Duration", "Finished"})
			for _, entry := range payload.Jobs {
				quality := entry.QualityEffective
				if entry.QualityRequested != entry.QualityEffective {
					quality = fmt.Sprintf("%s (requested %s)", entry.QualityEffective, entry.QualityRequested)
				}
				t.AppendRow(table.Row{
					entry.JobID,
					entry.SessionID,
					entry.Status,
					quality,
					entry.Degraded,
					entry.Duration.Round(time.Millisecond),
					entry.FinishedAt.Local().Format(time.DateTime),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to list")
	return cmd
}
