package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// newKnownCmd creates the "gofluff known" command group.
func newKnownCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "known",
		Short: "Manage the cache of known Furbies",
		Long:  "Known Furbies are remembered after every connection so F2F-mode toys,\nwhich do not advertise, can be dialled by address.",
	}
	cmd.AddCommand(newKnownListCmd(a), newKnownRemoveCmd(a), newKnownClearCmd(a))
	return cmd
}

func newKnownListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List known Furbies, most recently seen first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			furbies := a.knownFurbies().All()
			if len(furbies) == 0 {
				fmt.Fprintln(out, "No known Furbies")
				return nil
			}

			rows := make([][]string, 0, len(furbies))
			for _, f := range furbies {
				name := f.Name
				if f.NameID != nil {
					name = fmt.Sprintf("%s (%d)", f.Name, *f.NameID)
				}
				slots := make([]string, 0, len(f.Slots))
				for slot, rec := range f.Slots {
					slots = append(slots, fmt.Sprintf("%d:%s", slot, rec.Filename))
				}
				sort.Strings(slots)
				rows = append(rows, []string{
					f.Address,
					f.DeviceName,
					name,
					f.FirmwareRevision,
					f.LastSeen.Local().Format(time.DateTime),
					strings.Join(slots, " "),
				})
			}
			fmt.Fprint(out, renderTable([]string{"Address", "Device", "Name", "Firmware", "Last seen", "Slots"}, rows))
			fmt.Fprintln(out, mutedStyle.Render(strconv.Itoa(len(furbies))+" known, cache at "+a.knownFurbies().Path()))
			return nil
		},
	}
}

func newKnownRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <address>",
		Aliases: []string{"rm"},
		Short:   "Forget one Furby",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.knownFurbies().Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no known Furby with address %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newKnownClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget every known Furby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.knownFurbies().Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d known Furbies\n", n)
			return nil
		},
	}
}
