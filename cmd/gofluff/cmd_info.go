package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/cache"
)

// newInfoCmd creates the "gofluff info" subcommand.
func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the Furby's device information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				info, err := s.DeviceInfo(ctx)
				if err != nil {
					return fmt.Errorf("info: %w", err)
				}
				dev, _ := s.Device()
				if info.FirmwareRevision != "" {
					a.knownFurbies().AddOrUpdate(cache.Update{Address: dev.Address, FirmwareRevision: info.FirmwareRevision})
				}

				rows := [][]string{
					{"Address", dev.Address},
					{"Manufacturer", info.Manufacturer},
					{"Model", info.ModelNumber},
					{"Serial", info.SerialNumber},
					{"Hardware", info.HardwareRevision},
					{"Firmware", info.FirmwareRevision},
					{"Software", info.SoftwareRevision},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
				return nil
			})
		},
	}
}
