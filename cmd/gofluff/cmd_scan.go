package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gofluff/internal/ble"
)

// newScanCmd creates the "gofluff scan" subcommand.
func newScanCmd(a *app) *cobra.Command {
	var (
		scanTimeout time.Duration
		all         bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for nearby Furby devices",
		Long:  "Scan for advertising BLE devices and list the Furbies found, strongest signal first.\nA Furby in F2F mode does not advertise; dial it with --address instead.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("scan-timeout") {
				scanTimeout = a.cfg.Device.ScanTimeout
			}
			devices, err := ble.Discover(cmd.Context(), a.bleAdapter(), scanTimeout, !all)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintln(out, "No Furby devices found")
				return nil
			}

			known := a.knownFurbies()
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				mark := ""
				if _, ok := known.Get(d.Address); ok {
					mark = "yes"
				}
				rows = append(rows, []string{d.Name, d.Address, strconv.Itoa(d.RSSI), mark})
			}
			fmt.Fprint(out, renderTable([]string{"Name", "Address", "RSSI", "Known"}, rows))
			return nil
		},
	}
	cmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 10*time.Second, "how long to scan")
	cmd.Flags().BoolVar(&all, "all", false, "list every device, not only Furbies")
	return cmd
}
