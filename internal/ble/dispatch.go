package ble

import (
	"encoding/hex"
	"log/slog"
	"slices"
	"sync"
)

type subscriber struct {
	id uint64
	cb func([]byte)
}

// callbackList is a copy-on-write list of notification callbacks. Dispatch
// iterates a snapshot, so callbacks may register or unregister (themselves
// included) while being invoked without skipping or repeating anyone.
type callbackList struct {
	name string

	mu     sync.Mutex
	nextID uint64
	subs   []subscriber // never mutated in place
}

// add appends cb and returns a func that removes it. The returned func is
// safe to call more than once.
func (l *callbackList) add(cb func([]byte)) (remove func()) {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	next := make([]subscriber, len(l.subs), len(l.subs)+1)
	copy(next, l.subs)
	l.subs = append(next, subscriber{id: id, cb: cb})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *callbackList) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = slices.DeleteFunc(slices.Clone(l.subs), func(s subscriber) bool {
		return s.id == id
	})
}

func (l *callbackList) snapshot() []subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subs
}

func (l *callbackList) count() int {
	return len(l.snapshot())
}

// dispatch invokes every callback registered at the time of the call, in
// registration order. A panicking callback is logged and skipped.
func (l *callbackList) dispatch(data []byte) {
	slog.Debug("[BLE] notification", "channel", l.name, "data", hexBytes(data))
	for _, s := range l.snapshot() {
		l.invoke(s, data)
	}
}

func (l *callbackList) invoke(s subscriber, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[BLE] notification callback panicked", "channel", l.name, "panic", r)
		}
	}()
	s.cb(data)
}

// hexBytes defers hex encoding until a log record is actually emitted.
type hexBytes []byte

func (h hexBytes) LogValue() slog.Value {
	return slog.StringValue(hex.EncodeToString(h))
}
