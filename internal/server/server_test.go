package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/ble/bletest"
	"github.com/chaz8081/gofluff/internal/cache"
	"github.com/chaz8081/gofluff/internal/dlc"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	adapter  *bletest.Adapter
	registry *Registry
	cache    *cache.Cache
	logs     *LogHub
	handler  http.Handler
}

func newTestEnv(t *testing.T, opts Options, devices ...ble.Device) *testEnv {
	t.Helper()
	adapter := bletest.NewAdapter(devices...)
	reg := NewRegistry(adapter, RegistryOptions{
		Session: ble.Options{KeepaliveInterval: time.Hour, ReconnectMax: 1},
		Upload:  dlc.Options{ChunkDelay: time.Microsecond},
	})
	t.Cleanup(reg.Close)
	c := cache.Open(filepath.Join(t.TempDir(), "known_furbies.json"))
	logs := NewLogHub(slog.LevelInfo)
	srv := New(reg, c, logs, opts)
	return &testEnv{adapter: adapter, registry: reg, cache: c, logs: logs, handler: srv.Handler()}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	var env2 envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env2), "%s %s: body is not an envelope", method, path)
	return w.Code, env2
}

// connect opens a session to address and returns its id.
func (env *testEnv) connect(t *testing.T, address string) string {
	t.Helper()
	code, resp := env.do(t, "POST", "/sessions", map[string]any{"address": address, "retries": 1})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var st SessionStatus
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	require.NotEmpty(t, st.ID)
	return st.ID
}

func lastWrite(t *testing.T, c *bletest.Conn, charUUID string) []byte {
	t.Helper()
	writes := c.WritesTo(charUUID)
	require.NotEmpty(t, writes)
	return writes[len(writes)-1]
}

func TestDiscover(t *testing.T) {
	env := newTestEnv(t, Options{},
		ble.Device{Name: "Furby", Address: "AA", RSSI: -70},
		ble.Device{Name: "Headphones", Address: "BB", RSSI: -40},
		ble.Device{Name: "Furby", Address: "CC", RSSI: -50},
	)

	code, resp := env.do(t, "GET", "/discover?timeout=1", nil)
	require.Equal(t, http.StatusOK, code)
	var devices []ble.Device
	require.NoError(t, json.Unmarshal(resp.Data, &devices))
	require.Len(t, devices, 2)
	assert.Equal(t, "CC", devices[0].Address, "strongest signal first")

	_, resp = env.do(t, "GET", "/discover?timeout=1&all=true", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &devices))
	assert.Len(t, devices, 3)

	code, _ = env.do(t, "GET", "/discover?timeout=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestConnectAndStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA:BB")

	known, ok := env.cache.Get("AA:BB")
	require.True(t, ok, "connect records the device")
	assert.Equal(t, "V1.07", known.FirmwareRevision)

	code, resp := env.do(t, "GET", "/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	var list []SessionStatus
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	code, resp = env.do(t, "GET", "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	var st SessionStatus
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.True(t, st.Connected)
	assert.Equal(t, "connected", st.State)
	require.NotNil(t, st.Info)
	assert.Equal(t, "Hasbro", st.Info.Manufacturer)

	code, resp = env.do(t, "POST", "/sessions", map[string]any{"address": "AA:BB"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Already connected", resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, id, st.ID)
	assert.Equal(t, 1, env.adapter.Connects())
}

func TestConnectDiscoversFirstFurby(t *testing.T) {
	env := newTestEnv(t, Options{}, ble.Device{Name: "Furby", Address: "FF", RSSI: -60})

	code, resp := env.do(t, "POST", "/sessions", nil)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var st SessionStatus
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	require.NotNil(t, st.Device)
	assert.Equal(t, "FF", st.Device.Address)
}

func TestConnectValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	tests := []struct {
		name string
		body any
	}{
		{"bad json", "{nope"},
		{"timeout too short", map[string]any{"timeout": 0.5}},
		{"timeout too long", map[string]any{"timeout": 61}},
		{"too many retries", map[string]any{"retries": 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, "POST", "/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.False(t, resp.Success)
		})
	}
	assert.Zero(t, env.adapter.Connects())
}

func TestConnectBreakerOpens(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.adapter.FailConnects("DEAD", 100)

	for range 3 {
		code, resp := env.do(t, "POST", "/sessions", map[string]any{"address": "DEAD", "retries": 1})
		require.Equal(t, http.StatusBadGateway, code, resp.Message)
	}
	code, resp := env.do(t, "POST", "/sessions", map[string]any{"address": "DEAD", "retries": 1})
	assert.Equal(t, http.StatusServiceUnavailable, code, resp.Message)
	assert.Equal(t, 3, env.adapter.Connects(), "an open breaker fails fast")

	// Other addresses are unaffected.
	env.connect(t, "ALIVE")
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	for _, req := range []struct{ method, path string }{
		{"GET", "/sessions/nope"},
		{"DELETE", "/sessions/nope"},
		{"POST", "/sessions/nope/debug"},
		{"GET", "/sessions/nope/info"},
	} {
		code, resp := env.do(t, req.method, req.path, nil)
		assert.Equal(t, http.StatusNotFound, code, "%s %s", req.method, req.path)
		assert.False(t, resp.Success)
	}
}

func TestCommandRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	conn := env.adapter.Latest()
	base := "/sessions/" + id

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   []byte
	}{
		{"antenna", "POST", "/antenna", map[string]int{"red": 255, "green": 0, "blue": 128}, []byte{0x14, 255, 0, 128}},
		{"action", "POST", "/action", map[string]int{"input": 55, "index": 2, "subindex": 14, "specific": 0}, []byte{0x13, 0x00, 55, 2, 14, 0}},
		{"lcd on", "POST", "/lcd/on", nil, []byte{0xCD, 0x01}},
		{"lcd false", "POST", "/lcd/false", nil, []byte{0xCD, 0x00}},
		{"debug", "POST", "/debug", nil, []byte{0xDB}},
		{"mood set", "POST", "/mood", map[string]any{"type": "tiredness", "action": "set", "value": 50}, []byte{0x23, 0x01, 0x02, 50}},
		{"mood increase", "POST", "/mood", map[string]any{"type": "Wellness", "action": "increase", "value": 5}, []byte{0x23, 0x00, 0x04, 5}},
		{"load", "POST", "/dlc/3/load", nil, []byte{0x60, 3}},
		{"activate", "POST", "/dlc/activate", nil, []byte{0x61}},
		{"deactivate", "POST", "/dlc/3/deactivate", nil, []byte{0x62, 3}},
		{"delete", "DELETE", "/dlc/3", nil, []byte{0x74, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.method, base+tt.path, tt.body)
			require.Equal(t, http.StatusOK, code, resp.Message)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.want, lastWrite(t, conn, ble.GPWriteUUID))
		})
	}
}

func TestCommandValidation(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	conn := env.adapter.Latest()
	base := "/sessions/" + id
	before := len(conn.Writes())

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"antenna out of range", "POST", "/antenna", map[string]int{"red": 256}},
		{"action out of range", "POST", "/action", map[string]int{"input": -1}},
		{"lcd state", "POST", "/lcd/maybe", nil},
		{"name too high", "POST", "/name/129", nil},
		{"name not a number", "POST", "/name/bob", nil},
		{"mood type", "POST", "/mood", map[string]any{"type": "grumpy", "value": 1}},
		{"mood action", "POST", "/mood", map[string]any{"type": "fullness", "action": "halve", "value": 1}},
		{"slot", "POST", "/dlc/300/load", nil},
		{"empty sequence", "POST", "/actions/sequence", map[string]any{"actions": []any{}}},
		{"sequence delay", "POST", "/actions/sequence", map[string]any{
			"actions": []map[string]int{{"input": 1}},
			"delay":   31,
		}},
		{"empty upload", "POST", "/dlc?filename=A.DLC", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, tt.method, base+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, code, resp.Message)
			assert.False(t, resp.Success)
		})
	}
	assert.Len(t, conn.Writes(), before, "rejected requests write nothing")
}

func TestSetName(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	conn := env.adapter.Latest()

	code, resp := env.do(t, "POST", "/sessions/"+id+"/name/22", nil)
	require.Equal(t, http.StatusOK, code, resp.Message)

	writes := conn.WritesTo(ble.GPWriteUUID)
	require.GreaterOrEqual(t, len(writes), 2)
	assert.Equal(t, []byte{0x21, 22}, writes[len(writes)-2])
	assert.Equal(t, []byte{0x13, 0x00, 0x21, 0, 0, 22}, writes[len(writes)-1])

	known, ok := env.cache.Get("AA")
	require.True(t, ok)
	assert.Equal(t, "Dah-Boo", known.Name)
	require.NotNil(t, known.NameID)
	assert.Equal(t, 22, *known.NameID)
}

func TestSequence(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	conn := env.adapter.Latest()

	code, resp := env.do(t, "POST", "/sessions/"+id+"/actions/sequence", map[string]any{
		"actions": []map[string]int{
			{"input": 55, "index": 2, "subindex": 14, "specific": 0},
			{"input": 39, "index": 4, "subindex": 8, "specific": 0},
		},
		"delay": 0.1,
	})
	require.Equal(t, http.StatusOK, code, resp.Message)

	var data map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.EqualValues(t, 2, data["actions_executed"])

	writes := conn.WritesTo(ble.GPWriteUUID)
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{0x13, 0x00, 39, 4, 8, 0}, writes[1])
}

func TestDisconnectedSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	env.adapter.Latest().Drop()

	code, resp := env.do(t, "POST", "/sessions/"+id+"/debug", nil)
	assert.Equal(t, http.StatusConflict, code, resp.Message)

	code, resp = env.do(t, "GET", "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	var st SessionStatus
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.False(t, st.Connected)
	assert.Nil(t, st.Info)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	conn := env.adapter.Latest()

	code, _ := env.do(t, "DELETE", "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, conn.Closed())

	code, _ = env.do(t, "GET", "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// answerUploads plays the Furby side of a DLC transfer of size bytes.
func answerUploads(a *bletest.Adapter, size int) {
	chunks := (size + 19) / 20
	sent := 0
	a.OnWrite = func(c *bletest.Conn, w bletest.Write) {
		switch {
		case w.Char == ble.GPWriteUUID && w.Data[0] == 0x50:
			sent = 0
			c.Notify(ble.GPListenUUID, []byte{0x24, 0x02})
		case w.Char == ble.FileWriteUUID:
			sent++
			if sent == chunks {
				c.Notify(ble.GPListenUUID, []byte{0x24, 0x05})
			}
		}
	}
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, Options{DefaultSlot: 2})
	answerUploads(env.adapter, 45)
	id := env.connect(t, "AA")
	conn := env.adapter.Latest()

	data := bytes.Repeat([]byte{0xAB}, 45)
	code, resp := env.do(t, "POST", "/sessions/"+id+"/dlc?filename=TEST.DLC", data)
	require.Equal(t, http.StatusOK, code, resp.Message)

	var res dlc.Result
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.Equal(t, uint8(2), res.Slot)
	assert.Equal(t, 45, res.Size)
	assert.Equal(t, dlc.Digest(data), res.Digest)
	assert.Equal(t, data, bytes.Join(conn.WritesTo(ble.FileWriteUUID), nil))

	known, ok := env.cache.Get("AA")
	require.True(t, ok)
	require.Contains(t, known.Slots, 2)
	assert.Equal(t, "TEST.DLC", known.Slots[2].Filename)
	assert.Equal(t, res.Digest, known.Slots[2].Digest)
}

func TestKnownFurbies(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.cache.AddOrUpdate(cache.Update{Address: "AA", DeviceName: "Furby"})
	require.NoError(t, err)
	_, err = env.cache.AddOrUpdate(cache.Update{Address: "BB", DeviceName: "Furby"})
	require.NoError(t, err)

	code, resp := env.do(t, "GET", "/known-furbies", nil)
	require.Equal(t, http.StatusOK, code)
	var furbies []cache.KnownFurby
	require.NoError(t, json.Unmarshal(resp.Data, &furbies))
	assert.Len(t, furbies, 2)

	code, _ = env.do(t, "DELETE", "/known-furbies/ZZ", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, "DELETE", "/known-furbies/AA", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"BB"}, env.cache.Addresses())

	code, resp = env.do(t, "DELETE", "/known-furbies", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, resp.Message, "1")
	assert.Empty(t, env.cache.All())
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Options{})
	req := httptest.NewRequest("OPTIONS", "/sessions", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestConnectFlourish(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		adapter := bletest.NewAdapter()
		reg := NewRegistry(adapter, RegistryOptions{Session: ble.Options{KeepaliveInterval: time.Hour}})
		defer reg.Close()
		c := cache.Open(filepath.Join(t.TempDir(), "known_furbies.json"))
		h := New(reg, c, nil, Options{Flourish: true}).Handler()

		req := httptest.NewRequest("POST", "/sessions", strings.NewReader(`{"address":"AA"}`))
		w := httptest.NewRecorder()
		start := time.Now()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 1200*time.Millisecond, time.Since(start))

		red := []byte{0x14, 255, 0, 0}
		off := []byte{0x14, 0, 0, 0}
		assert.Equal(t, [][]byte{{0xDB}, red, off, red, off}, adapter.Latest().WritesTo(ble.GPWriteUUID))
	})
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestSensorWebSocket(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	conn := env.adapter.Latest()
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/sessions/"+id+"/sensors"), nil)
	require.NoError(t, err)
	defer ws.Close()

	// The stream subscribes just after the upgrade; keep notifying until
	// a packet comes through.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				conn.Notify(ble.GPListenUUID, []byte{0x20, 0x06}) // not a sensor packet
				conn.Notify(ble.GPListenUUID, []byte{0x21, 0x01, 0x02})
			}
		}
	}()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Timestamp float64 `json:"timestamp"`
		RawData   string  `json:"raw_data"`
	}
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "210102", ev.RawData)
	assert.Positive(t, ev.Timestamp)
}

func TestSensorWebSocketRequiresConnection(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.connect(t, "AA")
	env.adapter.Latest().Drop()

	code, _ := env.do(t, "GET", "/ws/sessions/"+id+"/sensors", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestLogWebSocket(t *testing.T) {
	env := newTestEnv(t, Options{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/logs"), nil)
	require.NoError(t, err)
	defer ws.Close()

	log := slog.New(env.logs.Handler())
	require.Eventually(t, func() bool { return env.logs.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	log.Info("hello from the server", "furbies", 2)

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := ws.ReadMessage()
		require.NoError(t, err)
		var entry logEntry
		require.NoError(t, json.Unmarshal(msg, &entry))
		if entry.Message != "hello from the server" {
			continue
		}
		assert.Equal(t, "info", entry.Type)
		assert.EqualValues(t, 2, entry.Attrs["furbies"])
		return
	}
}

func TestStatusForConnectErrors(t *testing.T) {
	invalid := &ble.ConnectionError{Address: "zz", Attempts: 1, Err: ble.ErrInvalidAddress}
	unreachable := &ble.ConnectionError{Address: "AA", Attempts: 3, Err: bletest.ErrUnreachable}

	assert.Equal(t, http.StatusBadRequest, statusFor(invalid))
	assert.Equal(t, http.StatusBadGateway, statusFor(unreachable))
}
