package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cinegrid/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and the visible grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, "Daemon")
				fmt.Fprintln(out, renderStatusLine("Running", statusOK, "pid "+strconv.Itoa(status.PID), colorize))
				if status.StartedAt != "" {
					fmt.Fprintln(out, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
				}
				fmt.Fprintln(out, renderStatusLine("Workspace", statusInfo, status.WorkspacePath, colorize))
				fmt.Fprintln(out, renderStatusLine("Layout", statusInfo, fmt.Sprintf("%dx%d", status.Grid.Dim, status.Grid.Dim), colorize))
				fmt.Fprintln(out, renderStatusLine("Frame cache", statusInfo, fmt.Sprintf("%d entries, %s",
					status.Cache.Entries, humanize.IBytes(uint64(max(status.Cache.TotalBytes, 0)))), colorize))
				for _, check := range status.Checks {
					kind := statusOK
					if !check.Passed {
						kind = statusWarn
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
				if failing := api.Failing(status.Grid.Visible()); len(failing) > 0 {
					fmt.Fprintln(out, renderStatusLine("Slot errors", statusError, strconv.Itoa(len(failing)), colorize))
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderGrid(status.Grid, colorize))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print raw JSON")
	return cmd
}
