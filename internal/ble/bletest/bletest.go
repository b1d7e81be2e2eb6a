// Package bletest provides an in-memory ble.Adapter for tests of code
// layered on ble.Session.
package bletest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chaz8081/gofluff/internal/ble"
)

// ErrUnreachable is returned by Connect for an address with failures left.
var ErrUnreachable = errors.New("bletest: device unreachable")

// Write is one recorded characteristic write.
type Write struct {
	Char         string // characteristic UUID
	Data         []byte
	WithResponse bool
}

// Adapter is a fake BLE adapter. Every connected device exposes all Furby
// characteristics; Device Information reads return Info.
type Adapter struct {
	mu       sync.Mutex
	devices  []ble.Device
	failures map[string]int
	info     map[string]string // char UUID -> value
	conns    []*Conn
	connects int

	// OnWrite, if set, is called after each write outside the lock.
	OnWrite func(c *Conn, w Write)
}

// NewAdapter returns an adapter that discovers devices.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{
		devices:  devices,
		failures: make(map[string]int),
		info: map[string]string{
			ble.ManufacturerNameUUID: "Hasbro",
			ble.ModelNumberUUID:      "Furby Connect",
			ble.FirmwareRevisionUUID: "V1.07",
		},
	}
}

// FailConnects makes the next n connects to address fail.
func (a *Adapter) FailConnects(address string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[address] = n
}

// Connects returns how many Connect calls were made.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Latest returns the most recent connection, or nil.
func (a *Adapter) Latest() *Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

func (a *Adapter) Enable() error { return nil }

func (a *Adapter) Scan(ctx context.Context) ([]ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.devices), nil
}

func (a *Adapter) Connect(ctx context.Context, address string) (ble.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.failures[address] > 0 {
		a.failures[address]--
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, address)
	}
	c := &Conn{adapter: a, Address: address, chars: make(map[string]*char)}
	a.conns = append(a.conns, c)
	return c, nil
}

var _ ble.Adapter = (*Adapter)(nil)

// Conn is a fake connection.
type Conn struct {
	adapter *Adapter
	Address string

	mu           sync.Mutex
	chars        map[string]*char
	writes       []Write
	onDisconnect func()
	closed       bool
}

// Writes returns every write so far, in order.
func (c *Conn) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.writes)
}

// WritesTo returns the payloads written to one characteristic.
func (c *Conn) WritesTo(charUUID string) [][]byte {
	var out [][]byte
	for _, w := range c.Writes() {
		if w.Char == charUUID {
			out = append(out, w.Data)
		}
	}
	return out
}

// Notify delivers data to the subscriber of charUUID, if any.
func (c *Conn) Notify(charUUID string, data []byte) {
	c.mu.Lock()
	ch := c.chars[charUUID]
	c.mu.Unlock()
	if ch == nil {
		return
	}
	ch.mu.Lock()
	cb := ch.callback
	ch.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Drop simulates the link going away.
func (c *Conn) Drop() {
	c.mu.Lock()
	cb := c.onDisconnect
	c.closed = true
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Closed reports whether Disconnect was called or the link dropped.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[charUUID]
	if !ok {
		ch = &char{conn: c, uuid: charUUID}
		c.adapter.mu.Lock()
		if v, ok := c.adapter.info[charUUID]; ok {
			ch.value = []byte(v)
		}
		c.adapter.mu.Unlock()
		c.chars[charUUID] = ch
	}
	return ch, nil
}

func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = cb
}

type char struct {
	conn *Conn
	uuid string

	mu       sync.Mutex
	callback func([]byte)
	value    []byte
}

func (ch *char) Write(data []byte, withResponse bool) error {
	w := Write{Char: ch.uuid, Data: bytes.Clone(data), WithResponse: withResponse}
	ch.conn.mu.Lock()
	ch.conn.writes = append(ch.conn.writes, w)
	ch.conn.mu.Unlock()
	if hook := ch.conn.adapter.OnWrite; hook != nil {
		hook(ch.conn, w)
	}
	return nil
}

func (ch *char) Subscribe(cb func([]byte)) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.callback = cb
	return nil
}

func (ch *char) Read() ([]byte, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.value == nil {
		return nil, fmt.Errorf("bletest: %s not readable", ch.uuid)
	}
	return bytes.Clone(ch.value), nil
}
