package ble

import (
	"errors"
	"testing"
)

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "not-an-address", "AA:BB", "GG:HH:II:JJ:KK:LL"} {
		if _, err := parseAddress(in); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("parseAddress(%q) error = %v, want ErrInvalidAddress", in, err)
		}
	}
}
