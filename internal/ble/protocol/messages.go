package protocol

import (
	"fmt"
	"strings"
)

// StatusCode is the sub-code of a RespFurbyMessage notification. Codes the
// protocol does not define are still valid values; Recognized reports
// whether the code is one of the known ones.
type StatusCode uint8

const (
	StatusEnteredNamingMode     StatusCode = 0x01
	StatusExitedNamingMode      StatusCode = 0x02
	StatusFurbyNamed            StatusCode = 0x03
	StatusEnteredAppMode        StatusCode = 0x04
	StatusExitedAppMode         StatusCode = 0x05
	StatusResponsePlayed        StatusCode = 0x06
	StatusSpeechPlaying         StatusCode = 0x07
	StatusSlaveAck              StatusCode = 0x08
	StatusMaskAdded             StatusCode = 0x0A
	StatusMaskRemoved           StatusCode = 0x0B
	StatusSequencePlaying       StatusCode = 0x0C
	StatusSequenceCancelled     StatusCode = 0x0D
	StatusSequenceEnded         StatusCode = 0x0E
	StatusInputOutOfRange       StatusCode = 0x0F
	StatusIndexOutOfRange       StatusCode = 0x10
	StatusSubindexOutOfRange    StatusCode = 0x11
	StatusSpecificOutOfRange    StatusCode = 0x12
	StatusSleepMaskAdded        StatusCode = 0x13
	StatusSleepMaskRemoved      StatusCode = 0x14
	StatusBodyCamOn             StatusCode = 0x15
	StatusBodyCamOff            StatusCode = 0x16
	StatusLCDOn                 StatusCode = 0x17
	StatusLCDOff                StatusCode = 0x18
	StatusGroupNotActive        StatusCode = 0x19
	StatusTimedGroupSet         StatusCode = 0x1A
	StatusCustomNotificationSet StatusCode = 0x1B
)

var statusNames = map[StatusCode]string{
	StatusEnteredNamingMode:     "ENTERED_NAMING_MODE",
	StatusExitedNamingMode:      "EXITED_NAMING_MODE",
	StatusFurbyNamed:            "FURBY_NAMED",
	StatusEnteredAppMode:        "ENTERED_APP_MODE",
	StatusExitedAppMode:         "EXITED_APP_MODE",
	StatusResponsePlayed:        "RESPONSE_PLAYED",
	StatusSpeechPlaying:         "SPEECH_PLAYING",
	StatusSlaveAck:              "SLAVE_ACK",
	StatusMaskAdded:             "MASK_ADDED",
	StatusMaskRemoved:           "MASK_REMOVED",
	StatusSequencePlaying:       "SEQUENCE_PLAYING",
	StatusSequenceCancelled:     "SEQUENCE_CANCELLED",
	StatusSequenceEnded:         "SEQUENCE_ENDED",
	StatusInputOutOfRange:       "INPUT_OUT_OF_RANGE",
	StatusIndexOutOfRange:       "INDEX_OUT_OF_RANGE",
	StatusSubindexOutOfRange:    "SUBINDEX_OUT_OF_RANGE",
	StatusSpecificOutOfRange:    "SPECIFIC_OUT_OF_RANGE",
	StatusSleepMaskAdded:        "SLEEP_MASK_ADDED",
	StatusSleepMaskRemoved:      "SLEEP_MASK_REMOVED",
	StatusBodyCamOn:             "BODYCAM_ON",
	StatusBodyCamOff:            "BODYCAM_OFF",
	StatusLCDOn:                 "LCD_ON",
	StatusLCDOff:                "LCD_OFF",
	StatusGroupNotActive:        "GROUP_NOT_ACTIVE",
	StatusTimedGroupSet:         "TIMED_GROUP_SET",
	StatusCustomNotificationSet: "CUSTOM_NOTIFICATION_SET",
}

// DecodeStatusMessage maps the first payload byte of a status message to
// its code. It never fails; check Recognized for undocumented codes.
func DecodeStatusMessage(b byte) StatusCode {
	return StatusCode(b)
}

// Recognized reports whether c is a documented status code.
func (c StatusCode) Recognized() bool {
	_, ok := statusNames[c]
	return ok
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNRECOGNIZED(0x%02x)", uint8(c))
}

// TransferCode is the sub-code of a RespFileTransferMode notification.
type TransferCode uint8

const (
	TransferFileAlreadyExists TransferCode = 0x01
	TransferReadyToReceive    TransferCode = 0x02
	TransferTimeout           TransferCode = 0x03
	TransferReadyToAppend     TransferCode = 0x04
	TransferReceivedOK        TransferCode = 0x05
	TransferReceivedError     TransferCode = 0x06
)

var transferNames = map[TransferCode]string{
	TransferFileAlreadyExists: "FILE_ALREADY_EXISTS",
	TransferReadyToReceive:    "READY_TO_RECEIVE",
	TransferTimeout:           "FILE_TRANSFER_TIMEOUT",
	TransferReadyToAppend:     "READY_TO_APPEND",
	TransferReceivedOK:        "FILE_RECEIVED_OK",
	TransferReceivedError:     "FILE_RECEIVED_ERROR",
}

// DecodeFileTransferStatus maps a file-transfer status byte to its code.
// Like DecodeStatusMessage it never fails.
func DecodeFileTransferStatus(b byte) TransferCode {
	return TransferCode(b)
}

// Recognized reports whether c is a documented transfer code.
func (c TransferCode) Recognized() bool {
	_, ok := transferNames[c]
	return ok
}

func (c TransferCode) String() string {
	if name, ok := transferNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNRECOGNIZED(0x%02x)", uint8(c))
}

// MoodType selects one of the Furby's emotional meters.
type MoodType uint8

const (
	MoodExcitedness    MoodType = 0x00
	MoodDispleasedness MoodType = 0x01
	MoodTiredness      MoodType = 0x02
	MoodFullness       MoodType = 0x03
	MoodWellness       MoodType = 0x04
)

var moodNames = map[MoodType]string{
	MoodExcitedness:    "excitedness",
	MoodDispleasedness: "displeasedness",
	MoodTiredness:      "tiredness",
	MoodFullness:       "fullness",
	MoodWellness:       "wellness",
}

func (m MoodType) String() string {
	if name, ok := moodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mood(0x%02x)", uint8(m))
}

// ParseMoodType resolves a case-insensitive mood name.
func ParseMoodType(s string) (MoodType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range moodNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown mood type %q", s)
}

// MoodTypes returns every mood type in protocol order.
func MoodTypes() []MoodType {
	return []MoodType{MoodExcitedness, MoodDispleasedness, MoodTiredness, MoodFullness, MoodWellness}
}
