package ble

import (
	"errors"
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestParseAddressCanonicalizesMAC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AA:BB:CC:DD:EE:0F", "AA:BB:CC:DD:EE:0F"},
		{"aa:bb:cc:dd:ee:0f", "AA:BB:CC:DD:EE:0F"},
		{"Aa:bB:cc:DD:ee:0F", "AA:BB:CC:DD:EE:0F"},
	}
	for _, tt := range tests {
		addr, err := parseAddress(tt.in)
		if err != nil {
			t.Fatalf("parseAddress(%q) error = %v", tt.in, err)
		}
		// The connect handler reports drops under Address.String().
		if got := addr.String(); got != tt.want {
			t.Errorf("parseAddress(%q).String() = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAddressRejectsUUIDOnLinux(t *testing.T) {
	_, err := parseAddress("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("parseAddress(uuid) error = %v, want ErrInvalidAddress", err)
	}
}

func TestWriteWithResponseUnsupported(t *testing.T) {
	c := &tinyGoCharacteristic{char: bluetooth.DeviceCharacteristic{}}
	if err := c.Write([]byte{0x09, 0x01, 0x00}, true); !errors.Is(err, ErrWriteResponseUnsupported) {
		t.Errorf("Write(withResponse) error = %v, want ErrWriteResponseUnsupported", err)
	}
}
