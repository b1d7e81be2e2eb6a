// Package protocol implements the Furby Connect wire codec: command packet
// builders for the GeneralPlus and Nordic channels, and parsers for the
// notification packets the toy sends back. Nothing here performs I/O.
package protocol

// MaxPacketSize is the largest payload accepted by a single BLE write.
const MaxPacketSize = 20

// FileChunkSize is the number of content bytes per file-channel write.
const FileChunkSize = MaxPacketSize

// DLCFilenameSize is the fixed width of the filename field in a DLC announce.
const DLCFilenameSize = 12

// MaxDLCSize is the largest file size the 3-byte announce field can carry.
const MaxDLCSize = 0xFFFFFF

// Command is a GeneralPlus (primary channel) command opcode.
type Command uint8

const (
	CmdTriggerActionByInput    Command = 0x10
	CmdTriggerActionByIndex    Command = 0x11
	CmdTriggerActionBySubindex Command = 0x12
	CmdTriggerSpecificAction   Command = 0x13
	CmdSetAntennaColor         Command = 0x14
	CmdFurbyMessage            Command = 0x20
	CmdSetName                 Command = 0x21
	CmdSetMoodMeter            Command = 0x23
	CmdSetNotifications        Command = 0x31
	CmdAnnounceDLCUpload       Command = 0x50
	CmdDeleteFile              Command = 0x53
	CmdGetFileSize             Command = 0x54
	CmdGetChecksum             Command = 0x55
	CmdLoadDLC                 Command = 0x60
	CmdActivateDLC             Command = 0x61
	CmdDeactivateDLC           Command = 0x62
	CmdGetSlotAllocation       Command = 0x72
	CmdGetSlotInfo             Command = 0x73
	CmdDeleteDLCSlot           Command = 0x74
	CmdBodyCam                 Command = 0xBC
	CmdLCDBacklight            Command = 0xCD
	CmdLCDDebugMenu            Command = 0xDB
	CmdGetFirmware             Command = 0xFE
)

// NordicCommand is a Nordic (secondary channel) command opcode.
type NordicCommand uint8

const NordicPacketAck NordicCommand = 0x09

// MoodAction selects whether a mood meter value is absolute or a delta.
type MoodAction uint8

const (
	MoodIncrease MoodAction = 0x00
	MoodSet      MoodAction = 0x01
)

// KeepalivePacket is the no-op written periodically to keep the toy quiet.
var KeepalivePacket = []byte{0x00}

// BuildAntennaColor sets the antenna LED to the given RGB color.
func BuildAntennaColor(r, g, b uint8) []byte {
	return []byte{byte(CmdSetAntennaColor), r, g, b}
}

// BuildAction triggers the action identified by the four-part coordinate.
func BuildAction(input, index, subindex, specific uint8) []byte {
	return []byte{byte(CmdTriggerSpecificAction), 0x00, input, index, subindex, specific}
}

// BuildLCDBacklight turns the eye LCD backlight on or off.
func BuildLCDBacklight(on bool) []byte {
	return []byte{byte(CmdLCDBacklight), boolByte(on)}
}

// BuildDebugMenu cycles through the LCD debug menus.
func BuildDebugMenu() []byte {
	return []byte{byte(CmdLCDDebugMenu)}
}

// BuildSetName sets the Furby's name to the entry with the given id (0-128).
func BuildSetName(id uint8) []byte {
	return []byte{byte(CmdSetName), id}
}

// BuildMoodMeter sets (MoodSet) or increases (MoodIncrease) one mood meter.
func BuildMoodMeter(action MoodAction, mood MoodType, value uint8) []byte {
	return []byte{byte(CmdSetMoodMeter), byte(action), byte(mood), value}
}

// BuildDLCAnnounce announces an upcoming file upload into slot.
//
// Layout (20 bytes):
//
//	[0]      0x50
//	[1]      0x00 reserved
//	[2:5]    size, 24-bit big-endian
//	[5]      slot
//	[6:18]   filename, ASCII, truncated and null padded to 12 bytes
//	[18:20]  0x00 0x00
func BuildDLCAnnounce(size uint32, slot uint8, filename string) []byte {
	buf := make([]byte, 0, MaxPacketSize)
	buf = append(buf, byte(CmdAnnounceDLCUpload), 0x00)
	buf = append(buf, byte(size>>16), byte(size>>8), byte(size))
	buf = append(buf, slot)

	var name [DLCFilenameSize]byte
	copy(name[:], filename)
	buf = append(buf, name[:]...)

	return append(buf, 0x00, 0x00)
}

// BuildLoadDLC loads the content in slot so it can be activated.
func BuildLoadDLC(slot uint8) []byte {
	return []byte{byte(CmdLoadDLC), slot}
}

// BuildActivateDLC activates the most recently loaded content.
func BuildActivateDLC() []byte {
	return []byte{byte(CmdActivateDLC)}
}

// BuildDeactivateDLC deactivates slot without deleting it.
func BuildDeactivateDLC(slot uint8) []byte {
	return []byte{byte(CmdDeactivateDLC), slot}
}

// BuildDeleteDLC erases the content stored in slot.
func BuildDeleteDLC(slot uint8) []byte {
	return []byte{byte(CmdDeleteDLCSlot), slot}
}

// BuildFirmwareQuery asks the GeneralPlus chip for its firmware version.
// The answer arrives as a RespFirmwareVersion notification.
func BuildFirmwareQuery() []byte {
	return []byte{byte(CmdGetFirmware)}
}

// BuildPacketAck enables or disables Nordic packet acknowledgements for
// file-channel writes. Sent on the secondary channel.
func BuildPacketAck(on bool) []byte {
	return []byte{byte(NordicPacketAck), boolByte(on), 0x00}
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
