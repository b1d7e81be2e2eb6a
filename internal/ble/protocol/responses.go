package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPacket is returned when a notification carries no bytes.
var ErrEmptyPacket = errors.New("protocol: empty packet")

// Response is the opcode of a GeneralPlus notification.
type Response uint8

const (
	RespFurbyMessage       Response = 0x20
	RespSensorStatus       Response = 0x21
	RespImHereSignal       Response = 0x22
	RespCurrentMode        Response = 0x23
	RespFileTransferMode   Response = 0x24
	RespLanguage           Response = 0x25
	RespFurbiesMet         Response = 0x26
	RespGotFileSize        Response = 0x54
	RespGotFileChecksum    Response = 0x55
	RespSlotsInfo          Response = 0x72
	RespGotSlotInfoByIndex Response = 0x73
	RespGotDeleteSlot      Response = 0x74
	RespReportDLC          Response = 0xDC
	RespFirmwareVersion    Response = 0xFE
)

var responseNames = map[Response]string{
	RespFurbyMessage:       "FURBY_MESSAGE",
	RespSensorStatus:       "SENSOR_STATUS",
	RespImHereSignal:       "IM_HERE_SIGNAL",
	RespCurrentMode:        "CURRENT_MODE",
	RespFileTransferMode:   "FILE_TRANSFER_MODE",
	RespLanguage:           "LANGUAGE",
	RespFurbiesMet:         "FURBIES_MET",
	RespGotFileSize:        "GOT_FILE_SIZE",
	RespGotFileChecksum:    "GOT_FILE_CHECKSUM",
	RespSlotsInfo:          "SLOTS_INFO",
	RespGotSlotInfoByIndex: "GOT_SLOT_INFO_BY_INDEX",
	RespGotDeleteSlot:      "GOT_DELETE_SLOT_BY_INDEX",
	RespReportDLC:          "REPORT_DLC",
	RespFirmwareVersion:    "GPL_FIRMWARE_VERSION",
}

func (r Response) String() string {
	if name, ok := responseNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RESPONSE(0x%02x)", uint8(r))
}

// Kind groups response opcodes into the classes callers act on.
type Kind int

const (
	KindOther Kind = iota
	KindStatusMessage
	KindSensorStatus
	KindFileTransfer
	KindFirmware
)

func (k Kind) String() string {
	switch k {
	case KindStatusMessage:
		return "status_message"
	case KindSensorStatus:
		return "sensor_status"
	case KindFileTransfer:
		return "file_transfer"
	case KindFirmware:
		return "firmware"
	default:
		return "other"
	}
}

// Parse splits a notification into its opcode and payload. The payload
// aliases data.
func Parse(data []byte) (Response, []byte, error) {
	if len(data) == 0 {
		return 0, nil, ErrEmptyPacket
	}
	return Response(data[0]), data[1:], nil
}

// Classify reports which class of notification op belongs to.
func Classify(op Response) Kind {
	switch op {
	case RespFurbyMessage:
		return KindStatusMessage
	case RespSensorStatus:
		return KindSensorStatus
	case RespFileTransferMode:
		return KindFileTransfer
	case RespFirmwareVersion:
		return KindFirmware
	default:
		return KindOther
	}
}

// IsSensorStatus reports whether data is a sensor-status notification.
func IsSensorStatus(data []byte) bool {
	return len(data) > 0 && Response(data[0]) == RespSensorStatus
}

// Event is a decoded notification. The concrete type is one of
// StatusMessage, SensorStatus, FileTransferStatus, FirmwareVersion or
// RawEvent.
type Event interface {
	Opcode() Response
}

// StatusMessage is a 0x20 notification.
type StatusMessage struct {
	Code StatusCode
	Data []byte // bytes following the code, usually empty
}

func (StatusMessage) Opcode() Response { return RespFurbyMessage }

// SensorStatus is a 0x21 notification. Its payload layout is undocumented.
type SensorStatus struct {
	Payload []byte
}

func (SensorStatus) Opcode() Response { return RespSensorStatus }

// FileTransferStatus is a 0x24 notification.
type FileTransferStatus struct {
	Code TransferCode
}

func (FileTransferStatus) Opcode() Response { return RespFileTransferMode }

// FirmwareVersion is a 0xFE notification.
type FirmwareVersion struct {
	Version string
}

func (FirmwareVersion) Opcode() Response { return RespFirmwareVersion }

// RawEvent carries any notification without a dedicated decoder, including
// status and transfer packets too short to hold a sub-code.
type RawEvent struct {
	Op      Response
	Payload []byte
}

func (e RawEvent) Opcode() Response { return e.Op }

// Decode parses data into a typed Event. Payload slices in the result are
// copies, so the event may outlive data.
func Decode(data []byte) (Event, error) {
	op, payload, err := Parse(data)
	if err != nil {
		return nil, err
	}
	payload = clone(payload)

	switch Classify(op) {
	case KindStatusMessage:
		if len(payload) == 0 {
			break
		}
		return StatusMessage{Code: DecodeStatusMessage(payload[0]), Data: payload[1:]}, nil
	case KindSensorStatus:
		return SensorStatus{Payload: payload}, nil
	case KindFileTransfer:
		if len(payload) == 0 {
			break
		}
		return FileTransferStatus{Code: DecodeFileTransferStatus(payload[0])}, nil
	case KindFirmware:
		return FirmwareVersion{Version: DecodeString(payload)}, nil
	}
	return RawEvent{Op: op, Payload: payload}, nil
}

// DecodeString trims the null padding and whitespace the device leaves
// around text fields.
func DecodeString(b []byte) string {
	return strings.TrimSpace(strings.Trim(string(b), "\x00"))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
