package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cinegrid/internal/api"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Show frame cache and preload statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				stats, err := client.Cache(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, stats)
				}
				rows := [][]string{
					{"Entries", strconv.Itoa(stats.Entries)},
					{"Downloading", strconv.Itoa(stats.InFlight)},
					{"Retained", strconv.Itoa(stats.Retained)},
					{"Size", humanize.IBytes(uint64(max(stats.TotalBytes, 0)))},
					{"Downloads", humanize.Comma(stats.Fetches)},
					{"Active preloads", strconv.Itoa(stats.ActivePreloads)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print raw JSON")
	return cmd
}
