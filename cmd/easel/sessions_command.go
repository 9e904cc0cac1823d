package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"easel/internal/session"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List live sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := ctx.baseURL()
			if err != nil {
				return err
			}
			var payload struct {
				Sessions []session.Info `json:"sessions"`
			}
			if err := fetchJSON(baseURL, "/api/sessions", &payload); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, payload)
			}
			if len(payload.Sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No live sessions")
				return nil
			}

			t := newTable(cmd)
			t.AppendHeader(table.Row{"Session", "User", "Created", "Last seen", "Active jobs", "Results"})
			for _, info := range payload.Sessions {
				t.AppendRow(table.Row{
					info.SID,
					info.UserID,
					info.CreatedAt.Local().Format(time.DateTime),
					info.LastSeen.Local().Format(time.DateTime),
					info.ActiveJobs,
					info.Results,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
