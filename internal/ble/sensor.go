package ble

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

// SensorEvent is one sensor-status notification. Raw is the full packet,
// opcode included; the payload layout is not documented.
type SensorEvent struct {
	Time time.Time
	Raw  []byte
}

// Payload returns the bytes following the opcode.
func (e SensorEvent) Payload() []byte {
	if len(e.Raw) == 0 {
		return nil
	}
	return e.Raw[1:]
}

func (e SensorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Timestamp float64 `json:"timestamp"`
		RawData   string  `json:"raw_data"`
	}{
		Timestamp: float64(e.Time.UnixMicro()) / 1e6,
		RawData:   hex.EncodeToString(e.Raw),
	})
}

// SensorStream returns a sequence of sensor events received while it is
// being ranged over. Each range registers its own primary callback and an
// unbounded queue; the callback is removed when the loop exits or ctx is
// done. The sequence never ends on its own.
func (s *Session) SensorStream(ctx context.Context) iter.Seq[SensorEvent] {
	return func(yield func(SensorEvent) bool) {
		q := newEventQueue[SensorEvent]()
		unsubscribe := s.OnPrimaryNotification(func(data []byte) {
			if !protocol.IsSensorStatus(data) {
				return
			}
			raw := make([]byte, len(data))
			copy(raw, data)
			q.push(SensorEvent{Time: time.Now(), Raw: raw})
		})
		defer unsubscribe()

		for {
			ev, ok := q.pop(ctx)
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// eventQueue is an unbounded FIFO with a blocking, cancellable pop.
type eventQueue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func newEventQueue[T any]() *eventQueue[T] {
	return &eventQueue[T]{ready: make(chan struct{}, 1)}
}

func (q *eventQueue[T]) push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue[T]) pop(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return v, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-q.ready:
		}
	}
}
