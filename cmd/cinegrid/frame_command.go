package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"cinegrid/internal/api"
)

func newFrameCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "frame <slot>",
		Short: "Save the picture currently shown in a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slotID, err := parseSlotArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				data, contentType, err := client.Frame(cmd.Context(), slotID)
				if err != nil {
					return err
				}
				target := strings.TrimSpace(output)
				if target == "" {
					target = fmt.Sprintf("slot-%d%s", slotID, extensionFor(contentType))
				}
				if target == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(target, data, 0o644); err != nil {
					return fmt.Errorf("write frame: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %s)\n", target, contentType, humanize.IBytes(uint64(len(data))))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file, or - for stdout")
	return cmd
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "application/dicom"):
		return ".dcm"
	default:
		return ".bin"
	}
}
