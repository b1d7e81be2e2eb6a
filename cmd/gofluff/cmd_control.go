package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

// newAntennaCmd creates the "gofluff antenna" subcommand.
func newAntennaCmd(a *app) *cobra.Command {
	var red, green, blue uint8
	cmd := &cobra.Command{
		Use:   "antenna",
		Short: "Set the antenna LED color",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.SetAntennaColor(red, green, blue); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Antenna set to RGB(%d, %d, %d)\n", red, green, blue)
				return nil
			})
		},
	}
	cmd.Flags().Uint8VarP(&red, "red", "r", 255, "red (0-255)")
	cmd.Flags().Uint8VarP(&green, "green", "g", 0, "green (0-255)")
	cmd.Flags().Uint8VarP(&blue, "blue", "b", 0, "blue (0-255)")
	return cmd
}

// parseActionArgs accepts either one "input/index/subindex/specific"
// argument or the four numbers separately.
func parseActionArgs(args []string) (ble.Action, error) {
	switch len(args) {
	case 1:
		return ble.ParseAction(args[0])
	case 4:
		return ble.ParseAction(strings.Join(args, "/"))
	default:
		return ble.Action{}, fmt.Errorf("want input/index/subindex/specific or four numbers, got %d arguments", len(args))
	}
}

// newActionCmd creates the "gofluff action" subcommand.
func newActionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "action <input/index/subindex/specific>",
		Short:   "Trigger a single action",
		Example: "  gofluff action 55/2/14/0\n  gofluff action 55 2 14 0",
		Args:    cobra.RangeArgs(1, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseActionArgs(args)
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.TriggerAction(action); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Triggered action %s\n", action)
				return nil
			})
		},
	}
}

// newSequenceCmd creates the "gofluff sequence" subcommand.
func newSequenceCmd(a *app) *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:     "sequence <action>...",
		Short:   "Trigger several actions with a pause between each",
		Example: "  gofluff sequence 55/2/14/0 55/2/15/0 --delay 3s",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if delay < 100*time.Millisecond || delay > 30*time.Second {
				return fmt.Errorf("delay must be between 100ms and 30s, got %s", delay)
			}
			actions := make([]ble.Action, 0, len(args))
			for _, arg := range args {
				action, err := ble.ParseAction(arg)
				if err != nil {
					return err
				}
				actions = append(actions, action)
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.RunSequence(ctx, actions, delay); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Executed %d actions\n", len(actions))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 2*time.Second, "pause between actions")
	return cmd
}

// newLCDCmd creates the "gofluff lcd" subcommand.
func newLCDCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "lcd <on|off>",
		Short:     "Switch the eye LCD backlight",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var on bool
			switch strings.ToLower(args[0]) {
			case "on":
				on = true
			case "off":
			default:
				return fmt.Errorf("lcd state must be on or off, got %q", args[0])
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.SetLCDBacklight(on); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "LCD backlight %s\n", strings.ToLower(args[0]))
				return nil
			})
		},
	}
}

// newDebugCmd creates the "gofluff debug" subcommand.
func newDebugCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Cycle the on-screen debug menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.CycleDebugMenu(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Debug menu cycled")
				return nil
			})
		},
	}
}

// resolveName accepts a numeric id or a name from the name database.
func resolveName(arg string) (int, string, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		if id, err = protocol.NameID(arg); err != nil {
			return 0, "", err
		}
	}
	name, ok := protocol.NameByID(id)
	if !ok {
		return 0, "", fmt.Errorf("name id must be between 0 and %d, got %d", protocol.MaxNameID, id)
	}
	return id, name, nil
}

// newNameCmd creates the "gofluff name" subcommand.
func newNameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "name <id|name>",
		Short:   "Rename the Furby",
		Example: "  gofluff name 12\n  gofluff name Dah-Bo",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, name, err := resolveName(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.SetName(id); err != nil {
					return err
				}
				if dev, ok := s.Device(); ok {
					if err := a.knownFurbies().UpdateName(dev.Address, name, id); err != nil {
						return fmt.Errorf("name set but cache not updated: %w", err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Name set to %s (ID %d)\n", name, id)
				return nil
			})
		},
	}
}

// newNamesCmd creates the "gofluff names" subcommand.
func newNamesCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "names",
		Short: "List the names a Furby can be given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			for id, name := range protocol.Names() {
				if filter != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(filter)) {
					continue
				}
				rows = append(rows, []string{strconv.Itoa(id), name})
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matching names")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"ID", "Name"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only names containing this text")
	return cmd
}

// newMoodCmd creates the "gofluff mood" subcommand.
func newMoodCmd(a *app) *cobra.Command {
	var set bool
	cmd := &cobra.Command{
		Use:     "mood <type> <value>",
		Short:   "Increase or set a mood meter",
		Long:    "Increase or set one of the mood meters: excitedness, displeasedness, tiredness, fullness, wellness.",
		Example: "  gofluff mood tiredness 20\n  gofluff mood fullness 100 --set",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mood, err := protocol.ParseMoodType(args[0])
			if err != nil {
				return err
			}
			v, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return fmt.Errorf("mood value must be between 0 and 255, got %q", args[1])
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.SetMood(mood, uint8(v), set); err != nil {
					return err
				}
				verb := "increased by"
				if set {
					verb = "set to"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mood %s %s %d\n", mood, verb, v)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&set, "set", false, "set the meter to value instead of adding to it")
	return cmd
}
