package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

// DeviceInfo holds the standard Device Information strings. Fields that
// could not be read are empty.
type DeviceInfo struct {
	Manufacturer     string `json:"manufacturer,omitempty"`
	ModelNumber      string `json:"model_number,omitempty"`
	SerialNumber     string `json:"serial_number,omitempty"`
	HardwareRevision string `json:"hardware_revision,omitempty"`
	FirmwareRevision string `json:"firmware_revision,omitempty"`
	SoftwareRevision string `json:"software_revision,omitempty"`
}

// DeviceInfo reads each Device Information characteristic independently.
// A field that cannot be read is logged and left empty; only a missing
// connection or a done ctx fails the call.
func (s *Session) DeviceInfo(ctx context.Context) (DeviceInfo, error) {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected {
		return DeviceInfo{}, ErrNotConnected
	}

	var info DeviceInfo
	fields := []struct {
		name string
		uuid string
		dst  *string
	}{
		{"manufacturer", ManufacturerNameUUID, &info.Manufacturer},
		{"model number", ModelNumberUUID, &info.ModelNumber},
		{"serial number", SerialNumberUUID, &info.SerialNumber},
		{"hardware revision", HardwareRevisionUUID, &info.HardwareRevision},
		{"firmware revision", FirmwareRevisionUUID, &info.FirmwareRevision},
		{"software revision", SoftwareRevisionUUID, &info.SoftwareRevision},
	}
	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return info, err
		}
		v, err := readString(conn, f.uuid)
		if err != nil {
			slog.Warn("[BLE] could not read device info", "field", f.name, "error", err)
			continue
		}
		*f.dst = v
	}
	return info, nil
}

func readString(conn Connection, charUUID string) (string, error) {
	char, err := conn.DiscoverCharacteristic(DeviceInfoServiceUUID, charUUID)
	if err != nil {
		return "", err
	}
	b, err := char.Read()
	if err != nil {
		return "", err
	}
	return protocol.DecodeString(b), nil
}

// RequestFirmware asks the Furby for its GeneralPlus firmware string and
// waits up to timeout for the reply notification.
func (s *Session) RequestFirmware(ctx context.Context, timeout time.Duration) (string, error) {
	versionCh := make(chan string, 1)
	unsubscribe := s.OnPrimaryNotification(func(data []byte) {
		ev, err := protocol.Decode(data)
		if err != nil {
			return
		}
		if fw, ok := ev.(protocol.FirmwareVersion); ok {
			select {
			case versionCh <- fw.Version:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := s.SendPrimary(protocol.BuildFirmwareQuery()); err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-versionCh:
		slog.Info("[BLE] firmware version", "version", v)
		return v, nil
	case <-timer.C:
		return "", fmt.Errorf("%w after %s", ErrNoFirmwareReply, timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
