//go:build !darwin && !windows

package ble

import "tinygo.org/x/bluetooth"

// writeWithResponse is unavailable on the BlueZ and bare-metal backends,
// which only expose WriteWithoutResponse.
func writeWithResponse(bluetooth.DeviceCharacteristic, []byte) error {
	return ErrWriteResponseUnsupported
}
