// Package ble manages the Bluetooth Low Energy session with a Furby
// Connect: discovery, connect with retry, notification dispatch, idle
// keepalive and the high-level toy commands built on the protocol codec.
package ble

import "context"

// Furby Connect GATT UUIDs.
const (
	FluffServiceUUID = "dab91435-b5a1-e29c-b041-bcd562613bde"

	// GeneralPlus is the primary command channel.
	GPWriteUUID  = "dab91383-b5a1-e29c-b041-bcd562613bde"
	GPListenUUID = "dab91382-b5a1-e29c-b041-bcd562613bde"

	// Nordic is the secondary channel used for packet-ack configuration.
	NordicWriteUUID  = "dab90757-b5a1-e29c-b041-bcd562613bde"
	NordicListenUUID = "dab90756-b5a1-e29c-b041-bcd562613bde"

	RSSIListenUUID = "dab90755-b5a1-e29c-b041-bcd562613bde"
	FileWriteUUID  = "dab90758-b5a1-e29c-b041-bcd562613bde"

	// DFUServiceUUID is advertised by the toy but never used here.
	DFUServiceUUID = "00001530-1212-efde-1523-785feabcd123"
)

// Standard Device Information service.
const (
	DeviceInfoServiceUUID = "0000180a-0000-1000-8000-00805f9b34fb"
	ManufacturerNameUUID  = "00002a29-0000-1000-8000-00805f9b34fb"
	ModelNumberUUID       = "00002a24-0000-1000-8000-00805f9b34fb"
	SerialNumberUUID      = "00002a25-0000-1000-8000-00805f9b34fb"
	HardwareRevisionUUID  = "00002a27-0000-1000-8000-00805f9b34fb"
	FirmwareRevisionUUID  = "00002a26-0000-1000-8000-00805f9b34fb"
	SoftwareRevisionUUID  = "00002a28-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data, waiting for a write response when withResponse is set.
	Write(data []byte, withResponse bool) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Read returns the characteristic's current value.
	Read() ([]byte, error)
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan returns every advertising peripheral seen until ctx is done.
	Scan(ctx context.Context) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
