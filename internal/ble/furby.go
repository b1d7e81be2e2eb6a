package ble

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

// SetAntennaColor sets the antenna LED.
func (s *Session) SetAntennaColor(red, green, blue uint8) error {
	if err := s.SendPrimary(protocol.BuildAntennaColor(red, green, blue)); err != nil {
		return err
	}
	slog.Info("[BLE] antenna color set", "red", red, "green", green, "blue", blue)
	return nil
}

// TriggerAction plays the action at the given coordinate.
func (s *Session) TriggerAction(a Action) error {
	if err := s.SendPrimary(protocol.BuildAction(a.Input, a.Index, a.Subindex, a.Specific)); err != nil {
		return err
	}
	slog.Info("[BLE] action triggered", "action", a.String())
	return nil
}

// SetLCDBacklight turns the eye LCD backlight on or off.
func (s *Session) SetLCDBacklight(on bool) error {
	if err := s.SendPrimary(protocol.BuildLCDBacklight(on)); err != nil {
		return err
	}
	slog.Info("[BLE] LCD backlight set", "on", on)
	return nil
}

// CycleDebugMenu advances the LCD debug menu.
func (s *Session) CycleDebugMenu() error {
	if err := s.SendPrimary(protocol.BuildDebugMenu()); err != nil {
		return err
	}
	slog.Info("[BLE] debug menu cycled")
	return nil
}

// SetName renames the Furby and has it say the new name.
func (s *Session) SetName(id int) error {
	if id < 0 || id > protocol.MaxNameID {
		return fmt.Errorf("ble: name id %d out of range 0-%d", id, protocol.MaxNameID)
	}
	if err := s.SendPrimary(protocol.BuildSetName(uint8(id))); err != nil {
		return err
	}
	say := Action{Input: uint8(protocol.CmdSetName), Specific: uint8(id)}
	if err := s.TriggerAction(say); err != nil {
		return err
	}
	name, _ := protocol.NameByID(id)
	slog.Info("[BLE] name set", "id", id, "name", name)
	return nil
}

// SetMood sets a mood meter to value, or raises it by value when absolute
// is false.
func (s *Session) SetMood(mood protocol.MoodType, value uint8, absolute bool) error {
	action := protocol.MoodIncrease
	if absolute {
		action = protocol.MoodSet
	}
	if err := s.SendPrimary(protocol.BuildMoodMeter(action, mood, value)); err != nil {
		return err
	}
	slog.Info("[BLE] mood set", "type", mood.String(), "value", value, "absolute", absolute)
	return nil
}

// EnablePacketAck turns Nordic packet acknowledgement on or off. While on,
// the Furby reports file-channel progress on the secondary channel and
// secondary writes wait for a write response.
func (s *Session) EnablePacketAck(on bool) error {
	if err := s.SendSecondary(protocol.BuildPacketAck(on)); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == StateConnected {
		s.packetAck = on
	}
	s.mu.Unlock()
	slog.Info("[BLE] packet ack set", "on", on)
	return nil
}

// LoadDLC loads the content stored in slot.
func (s *Session) LoadDLC(slot uint8) error {
	if err := s.SendPrimary(protocol.BuildLoadDLC(slot)); err != nil {
		return err
	}
	slog.Info("[BLE] DLC loaded", "slot", slot)
	return nil
}

// ActivateDLC activates the loaded content.
func (s *Session) ActivateDLC() error {
	if err := s.SendPrimary(protocol.BuildActivateDLC()); err != nil {
		return err
	}
	slog.Info("[BLE] DLC activated")
	return nil
}

// DeactivateDLC deactivates the content in slot.
func (s *Session) DeactivateDLC(slot uint8) error {
	if err := s.SendPrimary(protocol.BuildDeactivateDLC(slot)); err != nil {
		return err
	}
	slog.Info("[BLE] DLC deactivated", "slot", slot)
	return nil
}

// DeleteDLC erases slot.
func (s *Session) DeleteDLC(slot uint8) error {
	if err := s.SendPrimary(protocol.BuildDeleteDLC(slot)); err != nil {
		return err
	}
	slog.Info("[BLE] DLC slot deleted", "slot", slot)
	return nil
}

// flourishBlink is the on and off time of each antenna flash.
const flourishBlink = 300 * time.Millisecond

// ConnectFlourish greets a freshly connected Furby: it cycles the debug
// menu and flashes the antenna red twice. Failures are logged, not
// returned.
func (s *Session) ConnectFlourish(ctx context.Context) {
	if err := s.CycleDebugMenu(); err != nil {
		slog.Warn("[BLE] could not toggle debug menu", "error", err)
	}
	for range 2 {
		if err := s.SetAntennaColor(255, 0, 0); err != nil {
			slog.Warn("[BLE] could not flash antenna", "error", err)
			return
		}
		if sleepContext(ctx, flourishBlink) != nil {
			return
		}
		if err := s.SetAntennaColor(0, 0, 0); err != nil {
			slog.Warn("[BLE] could not flash antenna", "error", err)
			return
		}
		if sleepContext(ctx, flourishBlink) != nil {
			return
		}
	}
}
