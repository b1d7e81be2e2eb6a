package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/chaz8081/gofluff/internal/ble"
	"github.com/chaz8081/gofluff/internal/dlc"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("server: session not found")
	// ErrCircuitOpen means recent connects to the same target kept failing
	// and the registry is refusing new attempts until the cooldown ends.
	ErrCircuitOpen = errors.New("server: connect circuit open")
)

// Default breaker settings.
const (
	defaultBreakerFailures uint32 = 3
	defaultBreakerCooldown        = 30 * time.Second

	// discoverKey is the breaker key for connects without an address.
	discoverKey = "discover"
)

// RegistryOptions configures the sessions a Registry creates.
type RegistryOptions struct {
	Session         ble.Options
	Upload          dlc.Options
	BreakerFailures uint32        // consecutive failures before a target's breaker opens
	BreakerCooldown time.Duration // how long an open breaker rejects connects
}

// Entry is one registered session.
type Entry struct {
	ID       string
	Created  time.Time
	Session  *ble.Session
	Uploader *dlc.Uploader

	// ctx is cancelled when the entry is removed; streams bound to the
	// session watch it.
	ctx    context.Context
	cancel context.CancelFunc
}

// Done is closed once the entry has been removed from its registry.
func (e *Entry) Done() <-chan struct{} { return e.ctx.Done() }

// SessionStatus is the JSON view of an Entry.
type SessionStatus struct {
	ID        string          `json:"id"`
	State     string          `json:"state"`
	Connected bool            `json:"connected"`
	Device    *ble.Device     `json:"device,omitempty"`
	Created   time.Time       `json:"created"`
	Info      *ble.DeviceInfo `json:"info,omitempty"`
}

// Status snapshots the entry's session.
func (e *Entry) Status() SessionStatus {
	st := SessionStatus{
		ID:        e.ID,
		State:     e.Session.State().String(),
		Connected: e.Session.IsConnected(),
		Created:   e.Created,
	}
	if dev, ok := e.Session.Device(); ok {
		st.Device = &dev
	}
	return st
}

// Registry tracks the live sessions of a server. Each session gets its own
// id, so one server can drive several Furbies at once.
type Registry struct {
	adapter ble.Adapter
	opts    RegistryOptions

	mu       sync.RWMutex
	entries  map[string]*Entry
	breakers map[string]*gobreaker.CircuitBreaker[*Entry]
}

// NewRegistry creates an empty registry on adapter.
func NewRegistry(adapter ble.Adapter, opts RegistryOptions) *Registry {
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = defaultBreakerCooldown
	}
	return &Registry{
		adapter:  adapter,
		opts:     opts,
		entries:  make(map[string]*Entry),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*Entry]),
	}
}

// Adapter returns the adapter sessions are created on.
func (r *Registry) Adapter() ble.Adapter { return r.adapter }

// Connect opens a new session. A connected session to the same address is
// returned as is, with existing set. Connects are guarded by a per-target
// circuit breaker.
func (r *Registry) Connect(ctx context.Context, co ble.ConnectOptions) (e *Entry, existing bool, err error) {
	if co.Address != "" {
		if e := r.findConnected(co.Address); e != nil {
			return e, true, nil
		}
	}

	key := co.Address
	if key == "" {
		key = discoverKey
	}

	e, err = r.breaker(key).Execute(func() (*Entry, error) {
		return r.open(ctx, co)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, false, fmt.Errorf("%w: %s: %w", ErrCircuitOpen, key, err)
	}
	if err != nil {
		return nil, false, err
	}
	return e, false, nil
}

func (r *Registry) open(ctx context.Context, co ble.ConnectOptions) (*Entry, error) {
	sess := ble.NewSession(r.adapter, r.opts.Session)
	if err := sess.Connect(ctx, co); err != nil {
		return nil, err
	}

	ectx, cancel := context.WithCancel(context.Background())
	e := &Entry{
		ID:       uuid.NewString(),
		Created:  time.Now(),
		Session:  sess,
		Uploader: dlc.NewUploader(sess, r.opts.Upload),
		ctx:      ectx,
		cancel:   cancel,
	}

	r.mu.Lock()
	r.entries[e.ID] = e
	r.mu.Unlock()

	dev, _ := sess.Device()
	slog.Info("[Server] session opened", "id", e.ID, "address", dev.Address, "name", dev.Name)
	return e, nil
}

func (r *Registry) findConnected(address string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if dev, ok := e.Session.Device(); ok && dev.Address == address && e.Session.IsConnected() {
			return e
		}
	}
	return nil
}

// breaker returns the circuit breaker for key, creating it on first use.
func (r *Registry) breaker(key string) *gobreaker.CircuitBreaker[*Entry] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	maxFailures := r.opts.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[*Entry](gobreaker.Settings{
		Name:        "connect:" + key,
		MaxRequests: 1, // one trial connect while half-open
		Timeout:     r.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("[Server] circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A caller giving up says nothing about the device.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	r.breakers[key] = cb
	return cb
}

// BreakerState reports the breaker state for an address ("" for discovery).
func (r *Registry) BreakerState(address string) gobreaker.State {
	if address == "" {
		address = discoverKey
	}
	return r.breaker(address).State()
}

// Get returns the entry with id.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e, nil
}

// List returns every entry, oldest first.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Entry) int { return a.Created.Compare(b.Created) })
	return out
}

// Remove disconnects and forgets the entry with id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	e.cancel()
	slog.Info("[Server] session closed", "id", id)
	return e.Session.Disconnect()
}

// Close disconnects every session.
func (r *Registry) Close() {
	for _, e := range r.List() {
		if err := r.Remove(e.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			slog.Warn("[Server] disconnect on shutdown failed", "id", e.ID, "error", err)
		}
	}
}
