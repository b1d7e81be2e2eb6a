package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/cache"
	"github.com/chaz8081/gofluff/internal/dlc"
)

func parseSlot(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("slot must be between 0 and 255, got %q", s)
	}
	return uint8(v), nil
}

// progressBar renders sent/total as a single carriage-returned line.
func progressBar(w io.Writer) func(sent, total int) {
	const width = 30
	return func(sent, total int) {
		filled := width * sent / total
		fmt.Fprintf(w, "\r[%s%s] %3d%%", strings.Repeat("=", filled), strings.Repeat(" ", width-filled), 100*sent/total)
		if sent == total {
			fmt.Fprintln(w)
		}
	}
}

// readSource reads a DLC from a local path or downloads it from a URL.
func readSource(ctx context.Context, src string, out io.Writer) ([]byte, string, error) {
	if !dlc.IsURL(src) {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, "", err
		}
		return data, filepath.Base(src), nil
	}

	var progress func(received, total int64)
	if isTerminal(out) {
		progress = func(received, total int64) {
			if total > 0 {
				fmt.Fprintf(out, "\rDownloading: %d / %d bytes", received, total)
			} else {
				fmt.Fprintf(out, "\rDownloading: %d bytes", received)
			}
		}
	}
	data, filename, err := dlc.Fetch(ctx, nil, src, progress)
	if progress != nil {
		fmt.Fprintln(out)
	}
	return data, filename, err
}

// newUploadCmd creates the "gofluff upload" subcommand.
func newUploadCmd(a *app) *cobra.Command {
	var (
		slot     uint8
		activate bool
	)
	cmd := &cobra.Command{
		Use:     "upload <file.dlc|url>",
		Short:   "Upload a DLC file to a slot",
		Example: "  gofluff upload SONG.DLC --slot 3\n  gofluff upload https://example.com/packs/SONG.DLC --activate",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("slot") {
				slot = uint8(a.cfg.Upload.DefaultSlot)
			}
			out := cmd.OutOrStdout()
			opts := dlc.Options{
				ReadyTimeout:    a.cfg.Upload.ReadyTimeout,
				CompleteTimeout: a.cfg.Upload.CompleteTimeout,
				ChunkDelay:      a.cfg.Upload.ChunkDelay,
			}
			if isTerminal(out) {
				opts.Progress = progressBar(out)
			}

			data, filename, err := readSource(cmd.Context(), args[0], out)
			if err != nil {
				return err
			}
			if err := dlc.Validate(data, filename); err != nil {
				return err
			}

			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				res, err := dlc.NewUploader(s, opts).Upload(ctx, data, filename, slot)
				if err != nil {
					return err
				}
				if dev, ok := s.Device(); ok {
					rec := cache.SlotRecord{Filename: res.Filename, Size: res.Size, Digest: res.Digest}
					if err := a.knownFurbies().RecordUpload(dev.Address, int(slot), rec); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: upload not recorded: %v\n", err)
					}
				}
				fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("Uploaded %s to slot %d", res.Filename, res.Slot)))
				fmt.Fprintf(out, "%d bytes in %d chunks, %s\n", res.Size, res.Chunks, res.Duration.Round(time.Millisecond))

				if !activate {
					return nil
				}
				if err := s.LoadDLC(slot); err != nil {
					return err
				}
				if err := s.ActivateDLC(); err != nil {
					return err
				}
				fmt.Fprintf(out, "Slot %d loaded and activated\n", slot)
				return nil
			})
		},
	}
	cmd.Flags().Uint8Var(&slot, "slot", dlc.DefaultSlot, "destination slot")
	cmd.Flags().BoolVar(&activate, "activate", false, "load and activate the slot after uploading")
	return cmd
}

// newSlotCmd builds one of the single-slot DLC commands.
func newSlotCmd(a *app, use, short, done string, run func(*ble.Session, uint8) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <slot>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := run(s, slot); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Slot %d %s\n", slot, done)
				return nil
			})
		},
	}
}

func newLoadCmd(a *app) *cobra.Command {
	return newSlotCmd(a, "load", "Load the DLC in a slot", "loaded", (*ble.Session).LoadDLC)
}

func newDeactivateCmd(a *app) *cobra.Command {
	return newSlotCmd(a, "deactivate", "Deactivate the DLC in a slot", "deactivated", (*ble.Session).DeactivateDLC)
}

func newDeleteCmd(a *app) *cobra.Command {
	return newSlotCmd(a, "delete", "Delete the DLC in a slot", "deleted", (*ble.Session).DeleteDLC)
}

// newActivateCmd creates the "gofluff activate" subcommand.
func newActivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Activate the loaded DLC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *ble.Session) error {
				if err := s.ActivateDLC(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "DLC activated")
				return nil
			})
		},
	}
}
