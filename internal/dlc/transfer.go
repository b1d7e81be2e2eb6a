package dlc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

// transfer latches the file-transfer status notifications of one upload.
type transfer struct {
	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	doneOnce  sync.Once
	final     protocol.TransferCode // valid once done is closed
}

func newTransfer() *transfer {
	return &transfer{
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// onNotification is registered as a primary-channel callback. Anything
// other than a file-transfer status is ignored.
func (t *transfer) onNotification(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		return
	}
	st, ok := ev.(protocol.FileTransferStatus)
	if !ok {
		return
	}

	if !st.Code.Recognized() {
		slog.Warn("[DLC] unknown transfer status", "status", st.Code.String())
		return
	}
	slog.Info("[DLC] transfer status", "status", st.Code.String())

	switch st.Code {
	case protocol.TransferReadyToReceive:
		t.readyOnce.Do(func() { close(t.ready) })
	case protocol.TransferReceivedOK, protocol.TransferReceivedError, protocol.TransferTimeout:
		t.doneOnce.Do(func() {
			t.final = st.Code
			close(t.done)
		})
	}
}

// failure returns the terminal error if the Furby has already reported a
// failed transfer.
func (t *transfer) failure() error {
	select {
	case <-t.done:
		if t.final != protocol.TransferReceivedOK {
			return statusError(t.final)
		}
	default:
	}
	return nil
}

func (t *transfer) awaitReady(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.ready:
		return nil
	case <-t.done:
		// A terminal status before ready means the Furby refused the announce.
		if err := statusError(t.final); err != nil {
			return err
		}
		return fmt.Errorf("%w: completed before ready", ErrUploadNotAcknowledged)
	case <-timer.C:
		return fmt.Errorf("%w: no ready signal within %s", ErrUploadNotAcknowledged, timeout)
	case <-ctx.Done():
		return fmt.Errorf("dlc: waiting for ready: %w", ctx.Err())
	}
}

func (t *transfer) awaitComplete(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return statusError(t.final)
	case <-timer.C:
		return fmt.Errorf("%w: no confirmation within %s", ErrUploadTimeout, timeout)
	case <-ctx.Done():
		return fmt.Errorf("dlc: waiting for confirmation: %w", ctx.Err())
	}
}

// statusError maps a terminal transfer status to its error; nil for OK.
func statusError(code protocol.TransferCode) error {
	switch code {
	case protocol.TransferReceivedOK:
		return nil
	case protocol.TransferReceivedError:
		return fmt.Errorf("%w: Furby reported %s", ErrUploadRejected, code)
	case protocol.TransferTimeout:
		return fmt.Errorf("%w: Furby reported %s", ErrUploadTimeout, code)
	default:
		return fmt.Errorf("dlc: unexpected transfer status %s", code)
	}
}
