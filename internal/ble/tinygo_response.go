//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// writeWithResponse waits for the peripheral's write response.
func writeWithResponse(char bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.Write(data)
	return err
}
