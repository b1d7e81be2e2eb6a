package ble

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// FurbyNameToken appears in the advertised name of every Furby Connect.
const FurbyNameToken = "Furby"

// IsFurby reports whether an advertised name belongs to a Furby.
func IsFurby(name string) bool {
	return strings.Contains(name, FurbyNameToken)
}

// Discover scans for timeout and returns the devices seen. With furbyOnly
// set, devices whose name lacks FurbyNameToken are dropped. Discover does
// not touch any session.
func Discover(ctx context.Context, adapter Adapter, timeout time.Duration, furbyOnly bool) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Info("[BLE] scanning", "timeout", timeout, "furby_only", furbyOnly)
	devices, err := adapter.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	if furbyOnly {
		devices = slices.DeleteFunc(devices, func(d Device) bool {
			return !IsFurby(d.Name)
		})
	}
	// Strongest signal first.
	slices.SortStableFunc(devices, func(a, b Device) int {
		return b.RSSI - a.RSSI
	})

	slog.Info("[BLE] scan complete", "found", len(devices))
	return devices, nil
}
