package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

type mockWrite struct {
	data         []byte
	withResponse bool
}

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   []mockWrite
	callback func([]byte)
	value    []byte
	readErr  error
	subErr   error
	onWrite  func([]byte) // called after each write, outside the lock
}

func (c *mockCharacteristic) Write(data []byte, withResponse bool) error {
	c.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, mockWrite{data: cp, withResponse: withResponse})
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.readErr
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Writes returns a copy of the recorded writes.
func (c *mockCharacteristic) Writes() []mockWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mockWrite, len(c.writes))
	copy(out, c.writes)
	return out
}

// mockConnection simulates a BLE connection. Characteristics are created
// on first discovery unless listed in missing.
type mockConnection struct {
	mu           sync.Mutex
	chars        map[string]*mockCharacteristic
	missing      map[string]bool
	disconnectCb func()
	disconnects  int
	onClose      func() // called by Disconnect, outside the lock
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		chars:   make(map[string]*mockCharacteristic),
		missing: make(map[string]bool),
	}
}

// char returns the characteristic for uuid, creating it if needed.
func (c *mockConnection) char(uuid string) *mockCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[uuid]
	if !ok {
		ch = &mockCharacteristic{}
		c.chars[uuid] = ch
	}
	return ch
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	missing := c.missing[charUUID]
	c.mu.Unlock()
	if missing {
		return nil, fmt.Errorf("mock: characteristic %s not found", charUUID)
	}
	return c.char(charUUID), nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	hook := c.onClose
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// mockAdapter simulates the BLE adapter. The first failConnects calls to
// Connect fail.
type mockAdapter struct {
	mu           sync.Mutex
	devices      []Device
	failConnects int
	connectCalls int
	dialed       []string
	connections  []*mockConnection
	prepare      func(*mockConnection)
	enableErr    error
	connectErr   error // returned by every Connect when set
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{devices: devices}
}

var errMockUnreachable = errors.New("mock: device unreachable")

func (a *mockAdapter) Enable() error { return a.enableErr }

func (a *mockAdapter) Scan(_ context.Context) ([]Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Device, len(a.devices))
	copy(out, a.devices)
	return out, nil
}

func (a *mockAdapter) Connect(_ context.Context, address string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectCalls++
	a.dialed = append(a.dialed, address)
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	if a.connectCalls <= a.failConnects {
		return nil, errMockUnreachable
	}
	conn := newMockConnection()
	if a.prepare != nil {
		a.prepare(conn)
	}
	a.connections = append(a.connections, conn)
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connections) == 0 {
		return nil
	}
	return a.connections[len(a.connections)-1]
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectCalls
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
