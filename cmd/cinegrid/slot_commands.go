package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cinegrid/internal/api"
	"cinegrid/internal/cine"
	"cinegrid/internal/config"
)

func newSlotCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAssignCommand(ctx),
		newUnassignCommand(ctx),
		newLoadCommand(ctx),
		newPlaybackCommand(ctx, "play", "Resume playback of one slot or the whole grid", true),
		newPlaybackCommand(ctx, "pause", "Pause one slot or the whole grid", false),
		newStepCommand(ctx),
		newLayoutCommand(ctx),
		newRetryPreloadCommand(ctx),
	}
}

func parseSlotArg(value string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || id < 0 || id >= config.MaxSlots {
		return 0, fmt.Errorf("invalid slot %q: expected 0..%d", value, config.MaxSlots-1)
	}
	return id, nil
}

func newAssignCommand(ctx *commandContext) *cobra.Command {
	var inst cine.Instance
	cmd := &cobra.Command{
		Use:   "assign <slot> <instance-id>",
		Short: "Assign a cine instance to a slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			slotID, err := parseSlotArg(args[0])
			if err != nil {
				return err
			}
			inst.ID = strings.TrimSpace(args[1])
			return ctx.withClient(func(client *api.Client) error {
				slot, err := client.Assign(cmd.Context(), slotID, api.AssignRequest{Instance: inst})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Slot %d: %s (%s)\n", slot.ID, slot.InstanceID, slot.Badge)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&inst.NumberOfFrames, "frames", 0, "Number of frames in the instance")
	cmd.Flags().Float64Var(&inst.FrameRate, "fps", 0, "Playback rate (defaults to playback.default_fps)")
	cmd.Flags().StringVar(&inst.StudyUID, "study", "", "Study instance UID")
	cmd.Flags().StringVar(&inst.SeriesUID, "series", "", "Series instance UID")
	cmd.Flags().StringVar(&inst.SOPInstanceUID, "sop", "", "SOP instance UID")
	cmd.Flags().StringVar(&inst.CineURL, "cine-url", "", "Override the fast-path artifact URL")
	_ = cmd.MarkFlagRequired("frames")
	return cmd
}

func newUnassignCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "unassign <slot>",
		Aliases: []string{"clear"},
		Short:   "Return a slot to idle",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slotID, err := parseSlotArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				if err := client.Unassign(cmd.Context(), slotID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Slot %d cleared\n", slotID)
				return nil
			})
		},
	}
}

func newLoadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file|->",
		Short: "Fill the grid from a JSON array of instances",
		Long: "Reads a JSON array of instances (or an object with an \"instances\" field)\n" +
			"and assigns them to slots 0..n-1, growing the layout to fit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			insts, err := readInstances(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				grid, err := client.Load(cmd.Context(), api.LoadRequest{Instances: insts})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d instances into a %dx%d grid\n", len(insts), grid.Dim, grid.Dim)
				return nil
			})
		},
	}
}

func readInstances(stdin io.Reader, path string) ([]cine.Instance, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var req api.LoadRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse instances: %w", err)
		}
		return req.Instances, nil
	}
	var insts []cine.Instance
	if err := json.Unmarshal(data, &insts); err != nil {
		return nil, fmt.Errorf("parse instances: %w", err)
	}
	return insts, nil
}

func newPlaybackCommand(ctx *commandContext, use, short string, playing bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [slot]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if len(args) == 0 {
					if playing {
						return client.PlayAll(cmd.Context())
					}
					return client.PauseAll(cmd.Context())
				}
				slotID, err := parseSlotArg(args[0])
				if err != nil {
					return err
				}
				if playing {
					return client.Play(cmd.Context(), slotID)
				}
				return client.Pause(cmd.Context(), slotID)
			})
		},
	}
}

func newStepCommand(ctx *commandContext) *cobra.Command {
	var delta int
	cmd := &cobra.Command{
		Use:   "step <slot>",
		Short: "Move a paused slot by a number of frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slotID, err := parseSlotArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				slot, err := client.Step(cmd.Context(), slotID, delta)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Slot %d: frame %d/%d\n", slot.ID, slot.CurrentFrame+1, slot.Frames)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&delta, "delta", "d", 1, "Frames to move (negative steps backwards)")
	return cmd
}

func newLayoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "layout <dim>",
		Short: "Show a dim x dim grid (1..4)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dim, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid layout %q", args[0])
			}
			return ctx.withClient(func(client *api.Client) error {
				grid, err := client.SetLayout(cmd.Context(), dim)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Layout %dx%d\n", grid.Dim, grid.Dim)
				return nil
			})
		},
	}
}

func newRetryPreloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-preload <slot>",
		Short: "Restart a failed high-fidelity preload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slotID, err := parseSlotArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				return client.RetryPreload(cmd.Context(), slotID)
			})
		},
	}
}
