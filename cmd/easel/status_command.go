package main

import (
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"easel/internal/server"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon queue and degrade-mode status",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseURL, err := ctx.baseURL()
			if err != nil {
				return err
			}
			var status server.StatusResponse
			if err := fetchJSON(baseURL, "/api/status", &status); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, status)
			}

			t := newTable(cmd)
			t.AppendHeader(table.Row{"Field", "Value"})
			t.AppendRows([]table.Row{
				{"Queue depth", status.Scheduler.QueueDepth},
				{"Degrade mode", onOff(status.Scheduler.DegradeActive)},
				{"Average latency", status.Scheduler.AverageLatency.Round(time.Millisecond)},
				{"Tracked jobs", status.Scheduler.JobsTracked},
				{"Live sessions", status.Sessions},
			})
			if status.Journal != nil {
				t.AppendSeparator()
				t.AppendRows([]table.Row{
					{"Jobs journaled", status.Journal.Total},
					{"Done", status.Journal.Done},
					{"Errored", status.Journal.Errored},
					{"Cancelled", status.Journal.Cancelled},
					{"Degraded", status.Journal.Degraded},
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func onOff(active bool) string {
	if active {
		return "on"
	}
	return "off"
}
