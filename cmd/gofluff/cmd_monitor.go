package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gofluff/internal/ble"
)

// newMonitorCmd creates the "gofluff monitor" subcommand.
func newMonitorCmd(a *app) *cobra.Command {
	var (
		duration time.Duration
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream sensor notifications",
		Long:  "Print every sensor-status notification until interrupted or --duration elapses.\nOutput is JSON lines when --json is set or stdout is not a terminal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			jsonLines := asJSON || !isTerminal(out)

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			return a.withSession(ctx, func(ctx context.Context, s *ble.Session) error {
				if !jsonLines {
					fmt.Fprintln(out, mutedStyle.Render("Monitoring sensors, Ctrl+C to stop"))
				}
				enc := json.NewEncoder(out)
				n := 0
				for ev := range s.SensorStream(ctx) {
					n++
					if jsonLines {
						if err := enc.Encode(ev); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintf(out, "%s  %s\n", ev.Time.Format("15:04:05.000"), hex.EncodeToString(ev.Raw))
				}
				if !jsonLines {
					fmt.Fprintf(out, "%d sensor events\n", n)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON lines even on a terminal")
	return cmd
}
