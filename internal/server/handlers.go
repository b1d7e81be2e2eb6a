package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/ble/protocol"
	"github.com/chaz8081/gofluff/internal/cache"
	"github.com/chaz8081/gofluff/internal/dlc"
)

// Sequence delay bounds, in seconds.
const (
	defaultSequenceDelay = 2.0
	minSequenceDelay     = 0.1
	maxSequenceDelay     = 30.0
)

type connectRequest struct {
	Address string  `json:"address"`
	Timeout float64 `json:"timeout"` // seconds per attempt
	Retries int     `json:"retries"`
}

type antennaRequest struct {
	Red   int `json:"red"`
	Green int `json:"green"`
	Blue  int `json:"blue"`
}

type actionRequest struct {
	Input    int `json:"input"`
	Index    int `json:"index"`
	Subindex int `json:"subindex"`
	Specific int `json:"specific"`
}

type sequenceRequest struct {
	Actions []actionRequest `json:"actions"`
	Delay   *float64        `json:"delay"` // seconds
}

type moodRequest struct {
	Type   string `json:"type"`
	Action string `json:"action"` // "set" or "increase"
	Value  int    `json:"value"`
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return badRequest("invalid request body: %v", err)
}

func byteField(name string, v int) (uint8, error) {
	if v < 0 || v > 255 {
		return 0, badRequest("%s must be between 0 and 255, got %d", name, v)
	}
	return uint8(v), nil
}

func (a actionRequest) toAction() (ble.Action, error) {
	var out ble.Action
	var err error
	if out.Input, err = byteField("input", a.Input); err != nil {
		return out, err
	}
	if out.Index, err = byteField("index", a.Index); err != nil {
		return out, err
	}
	if out.Subindex, err = byteField("subindex", a.Subindex); err != nil {
		return out, err
	}
	if out.Specific, err = byteField("specific", a.Specific); err != nil {
		return out, err
	}
	return out, nil
}

// connected resolves the {id} path value to a connected session.
func (s *Server) connected(w http.ResponseWriter, r *http.Request) (*Entry, bool) {
	e, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if !e.Session.IsConnected() {
		writeError(w, errNotConnected(e))
		return nil, false
	}
	return e, true
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	timeout := s.opts.ScanTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs <= 0 || secs > 60 {
			writeError(w, badRequest("timeout must be between 0 and 60 seconds"))
			return
		}
		timeout = time.Duration(secs * float64(time.Second))
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	devices, err := ble.Discover(r.Context(), s.registry.Adapter(), timeout, !all)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, fmt.Sprintf("Found %d device(s)", len(devices)), devices)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	co := ble.ConnectOptions{
		Address: strings.TrimSpace(req.Address),
		Timeout: s.opts.ConnectTimeout,
		Retries: s.opts.ConnectRetries,
	}
	if req.Timeout != 0 {
		if req.Timeout < 1 || req.Timeout > 60 {
			writeError(w, badRequest("timeout must be between 1 and 60 seconds"))
			return
		}
		co.Timeout = time.Duration(req.Timeout * float64(time.Second))
	}
	if req.Retries != 0 {
		if req.Retries < 1 || req.Retries > 10 {
			writeError(w, badRequest("retries must be between 1 and 10"))
			return
		}
		co.Retries = req.Retries
	}

	if co.Address != "" {
		slog.Info("[Server] connecting to Furby", "address", co.Address, "retries", co.Retries)
	} else {
		slog.Info("[Server] scanning for Furby devices")
	}

	e, existing, err := s.registry.Connect(r.Context(), co)
	if err != nil {
		slog.Error("[Server] connection failed", "error", err)
		writeError(w, err)
		return
	}
	if existing {
		writeOK(w, "Already connected", e.Status())
		return
	}

	s.rememberDevice(r, e)
	if s.opts.Flourish {
		e.Session.ConnectFlourish(r.Context())
		slog.Info("[Server] connection sequence complete", "id", e.ID)
	}
	writeJSON(w, http.StatusCreated, response{Success: true, Message: "Connected to Furby", Data: e.Status()})
}

// rememberDevice records a fresh connection in the known-device cache.
func (s *Server) rememberDevice(r *http.Request, e *Entry) {
	dev, ok := e.Session.Device()
	if !ok {
		return
	}
	update := cache.Update{Address: dev.Address, DeviceName: dev.Name}
	if info, err := e.Session.DeviceInfo(r.Context()); err == nil {
		update.FirmwareRevision = info.FirmwareRevision
	}
	if _, err := s.cache.AddOrUpdate(update); err != nil {
		slog.Warn("[Server] could not update cache", "address", dev.Address, "error", err)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.List()
	out := make([]SessionStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Status())
	}
	writeOK(w, fmt.Sprintf("%d session(s)", len(out)), out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	e, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	st := e.Status()
	if st.Connected {
		if info, err := e.Session.DeviceInfo(r.Context()); err == nil {
			st.Info = &info
		} else {
			slog.Warn("[Server] could not get device info", "id", e.ID, "error", err)
		}
	}
	writeOK(w, st.State, st)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "Disconnected", nil)
}

func (s *Server) handleAntenna(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req antennaRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	red, err := byteField("red", req.Red)
	if err == nil {
		var green, blue uint8
		if green, err = byteField("green", req.Green); err == nil {
			if blue, err = byteField("blue", req.Blue); err == nil {
				err = e.Session.SetAntennaColor(red, green, blue)
			}
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, fmt.Sprintf("Antenna set to RGB(%d, %d, %d)", req.Red, req.Green, req.Blue), nil)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := req.toAction()
	if err == nil {
		err = e.Session.TriggerAction(a)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "Action triggered: "+a.String(), nil)
}

func (s *Server) handleSequence(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req sequenceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Actions) == 0 {
		writeError(w, badRequest("actions must not be empty"))
		return
	}
	delay := defaultSequenceDelay
	if req.Delay != nil {
		delay = *req.Delay
	}
	if delay < minSequenceDelay || delay > maxSequenceDelay {
		writeError(w, badRequest("delay must be between %.1f and %.1f seconds", minSequenceDelay, maxSequenceDelay))
		return
	}

	actions := make([]ble.Action, 0, len(req.Actions))
	for i, ar := range req.Actions {
		a, err := ar.toAction()
		if err != nil {
			writeError(w, badRequest("action %d: %v", i+1, err))
			return
		}
		actions = append(actions, a)
	}

	slog.Info("[Server] starting action sequence", "id", e.ID, "actions", len(actions), "delay", delay)
	if err := e.Session.RunSequence(r.Context(), actions, time.Duration(delay*float64(time.Second))); err != nil {
		writeError(w, err)
		return
	}
	slog.Info("[Server] action sequence completed successfully", "id", e.ID, "actions", len(actions))
	writeOK(w, fmt.Sprintf("Sequence completed: %d actions", len(actions)), map[string]any{
		"actions_executed": len(actions),
		"delay_used":       delay,
	})
}

// parseSwitch accepts on/off in addition to strconv.ParseBool forms.
func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, badRequest("state must be on or off, got %q", s)
	}
	return v, nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (s *Server) handleLCD(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	on, err := parseSwitch(r.PathValue("state"))
	if err == nil {
		err = e.Session.SetLCDBacklight(on)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "LCD backlight "+onOff(on), nil)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	if err := e.Session.CycleDebugMenu(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "Debug menu cycled", nil)
}

func (s *Server) handleName(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("nameID"))
	if err != nil || id < 0 || id > protocol.MaxNameID {
		writeError(w, badRequest("name id must be between 0 and %d", protocol.MaxNameID))
		return
	}
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	if err := e.Session.SetName(id); err != nil {
		writeError(w, err)
		return
	}

	name, _ := protocol.NameByID(id)
	if dev, ok := e.Session.Device(); ok {
		if err := s.cache.UpdateName(dev.Address, name, id); err != nil {
			slog.Warn("[Server] could not update name in cache", "address", dev.Address, "error", err)
		}
	}
	writeOK(w, fmt.Sprintf("Name set to %s (ID %d)", name, id), map[string]any{"name": name, "name_id": id})
}

func (s *Server) handleMood(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	var req moodRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mood, err := protocol.ParseMoodType(req.Type)
	if err != nil {
		writeError(w, badRequest("invalid mood type: %q", req.Type))
		return
	}
	var absolute bool
	switch strings.ToLower(req.Action) {
	case "set":
		absolute = true
	case "increase", "":
	default:
		writeError(w, badRequest("mood action must be set or increase, got %q", req.Action))
		return
	}
	value, err := byteField("value", req.Value)
	if err == nil {
		err = e.Session.SetMood(mood, value, absolute)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	verb := "increased by"
	if absolute {
		verb = "set to"
	}
	writeOK(w, fmt.Sprintf("Mood %s %s %d", mood, verb, value), nil)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	info, err := e.Session.DeviceInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "Device information", info)
}

// slotValue parses a DLC slot from a path or query value.
func slotValue(v string) (uint8, error) {
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, badRequest("slot must be between 0 and 255, got %q", v)
	}
	return uint8(n), nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	slot := s.opts.DefaultSlot
	if v := q.Get("slot"); v != "" {
		var err error
		if slot, err = slotValue(v); err != nil {
			writeError(w, err)
			return
		}
	}
	filename := q.Get("filename")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, protocol.MaxDLCSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fmt.Errorf("%w: body exceeds %d bytes", dlc.ErrInvalidUpload, protocol.MaxDLCSize))
			return
		}
		writeError(w, badRequest("reading body: %v", err))
		return
	}

	res, err := e.Uploader.Upload(r.Context(), data, filename, slot)
	if err != nil {
		writeError(w, err)
		return
	}

	if dev, ok := e.Session.Device(); ok {
		rec := cache.SlotRecord{Filename: res.Filename, Size: res.Size, Digest: res.Digest}
		if err := s.cache.RecordUpload(dev.Address, int(slot), rec); err != nil {
			slog.Warn("[Server] could not record upload", "address", dev.Address, "error", err)
		}
	}
	writeOK(w, fmt.Sprintf("Uploaded %s to slot %d", res.Filename, res.Slot), res)
}

// slotCommand runs a DLC slot command named by the {slot} path value.
func (s *Server) slotCommand(w http.ResponseWriter, r *http.Request, verb string, cmd func(*ble.Session, uint8) error) {
	slot, err := slotValue(r.PathValue("slot"))
	if err != nil {
		writeError(w, err)
		return
	}
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	if err := cmd(e.Session, slot); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, fmt.Sprintf("DLC slot %d %s", slot, verb), nil)
}

func (s *Server) handleLoadDLC(w http.ResponseWriter, r *http.Request) {
	s.slotCommand(w, r, "loaded", (*ble.Session).LoadDLC)
}

func (s *Server) handleDeactivateDLC(w http.ResponseWriter, r *http.Request) {
	s.slotCommand(w, r, "deactivated", (*ble.Session).DeactivateDLC)
}

func (s *Server) handleDeleteDLC(w http.ResponseWriter, r *http.Request) {
	s.slotCommand(w, r, "deleted", (*ble.Session).DeleteDLC)
}

func (s *Server) handleActivateDLC(w http.ResponseWriter, r *http.Request) {
	e, ok := s.connected(w, r)
	if !ok {
		return
	}
	if err := e.Session.ActivateDLC(); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "DLC activated", nil)
}

func (s *Server) handleKnownList(w http.ResponseWriter, r *http.Request) {
	furbies := s.cache.All()
	writeOK(w, fmt.Sprintf("%d known Furby(s)", len(furbies)), furbies)
}

func (s *Server) handleKnownClear(w http.ResponseWriter, r *http.Request) {
	n, err := s.cache.Clear()
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, fmt.Sprintf("Cleared %d known Furby(s)", n), nil)
}

func (s *Server) handleKnownRemove(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	removed, err := s.cache.Remove(address)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, response{Message: "Furby not found in cache: " + address})
		return
	}
	writeOK(w, "Removed "+address, nil)
}
