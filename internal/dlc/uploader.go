// Package dlc uploads downloadable content files into a Furby's storage
// slots and drives the announce, ready, stream and confirm handshake.
package dlc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

var (
	// ErrUploadNotAcknowledged means the Furby never signalled it was ready
	// to receive after the announce.
	ErrUploadNotAcknowledged = errors.New("dlc: upload not acknowledged")
	// ErrUploadTimeout covers both a device-reported transfer timeout and
	// no confirmation arriving in time.
	ErrUploadTimeout = errors.New("dlc: upload timed out")
	// ErrUploadRejected means the Furby reported a receive error.
	ErrUploadRejected = errors.New("dlc: upload rejected")
	// ErrInvalidUpload is returned before any write for content that can
	// never be uploaded.
	ErrInvalidUpload = errors.New("dlc: invalid upload")
)

// DefaultSlot is the slot uploads target when none is given.
const DefaultSlot = 2

// Transport is the part of a ble.Session the uploader needs.
type Transport interface {
	SendPrimary(data []byte) error
	SendFile(data []byte) error
	OnPrimaryNotification(cb func([]byte)) (unsubscribe func())
}

// Options configures upload timing.
type Options struct {
	ReadyTimeout    time.Duration // wait for READY_TO_RECEIVE (default 10s)
	CompleteTimeout time.Duration // wait for the final status (default 60s)
	ChunkDelay      time.Duration // minimum spacing between chunk writes (default 5ms)

	// Progress, if set, is called after every chunk with the bytes sent so
	// far and the total.
	Progress func(sent, total int)
}

// DefaultOptions returns the timings the Furby firmware tolerates.
func DefaultOptions() Options {
	return Options{
		ReadyTimeout:    10 * time.Second,
		CompleteTimeout: 60 * time.Second,
		ChunkDelay:      5 * time.Millisecond,
	}
}

// Result describes a completed upload.
type Result struct {
	Filename string        `json:"filename"`
	Slot     uint8         `json:"slot"`
	Size     int           `json:"size"`
	Chunks   int           `json:"chunks"`
	Digest   string        `json:"digest"`
	Duration time.Duration `json:"duration"`
}

// Uploader runs file transfers over one Transport. Uploads are serialized:
// concurrent calls wait their turn, since every transfer shares the same
// status notifications.
type Uploader struct {
	transport Transport
	opts      Options

	mu sync.Mutex
}

// NewUploader creates an uploader. Zero timings in opts take defaults.
func NewUploader(t Transport, opts Options) *Uploader {
	def := DefaultOptions()
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = def.ReadyTimeout
	}
	if opts.CompleteTimeout <= 0 {
		opts.CompleteTimeout = def.CompleteTimeout
	}
	if opts.ChunkDelay <= 0 {
		opts.ChunkDelay = def.ChunkDelay
	}
	return &Uploader{transport: t, opts: opts}
}

// UploadFile uploads the file at path into slot, announcing it under the
// file's base name.
func (u *Uploader) UploadFile(ctx context.Context, path string, slot uint8) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("dlc: read %s: %w", path, err)
	}
	return u.Upload(ctx, data, filepath.Base(path), slot)
}

// Upload pushes data into slot. The temporary status callback is removed
// on every return path.
func (u *Uploader) Upload(ctx context.Context, data []byte, filename string, slot uint8) (Result, error) {
	if err := Validate(data, filename); err != nil {
		return Result{}, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	start := time.Now()
	if len(filename) > protocol.DLCFilenameSize {
		slog.Warn("[DLC] filename truncated", "filename", filename, "sent_as", filename[:protocol.DLCFilenameSize])
	}
	slog.Info("[DLC] uploading", "filename", filename, "size", len(data), "slot", slot)

	tr := newTransfer()
	unsubscribe := u.transport.OnPrimaryNotification(tr.onNotification)
	defer unsubscribe()

	announce := protocol.BuildDLCAnnounce(uint32(len(data)), slot, filename)
	if err := u.transport.SendPrimary(announce); err != nil {
		return Result{}, fmt.Errorf("dlc: announce: %w", err)
	}

	if err := tr.awaitReady(ctx, u.opts.ReadyTimeout); err != nil {
		return Result{}, err
	}
	slog.Info("[DLC] Furby ready, sending data")

	chunks, err := u.stream(ctx, tr, data)
	if err != nil {
		return Result{}, err
	}
	slog.Info("[DLC] data sent, waiting for confirmation", "chunks", chunks)

	if err := tr.awaitComplete(ctx, u.opts.CompleteTimeout); err != nil {
		return Result{}, err
	}

	res := Result{
		Filename: filename,
		Slot:     slot,
		Size:     len(data),
		Chunks:   chunks,
		Digest:   Digest(data),
		Duration: time.Since(start),
	}
	slog.Info("[DLC] upload complete", "filename", filename, "slot", slot, "duration", res.Duration)
	return res, nil
}

// stream writes data in file-channel chunks, paced by a limiter. It aborts
// early if the Furby reports a failure mid-transfer.
func (u *Uploader) stream(ctx context.Context, tr *transfer, data []byte) (int, error) {
	limiter := rate.NewLimiter(rate.Every(u.opts.ChunkDelay), 1)
	chunks := protocol.Chunk(data, protocol.FileChunkSize)
	sent := 0

	for i, chunk := range chunks {
		if err := tr.failure(); err != nil {
			return i, err
		}
		if err := limiter.Wait(ctx); err != nil {
			return i, fmt.Errorf("dlc: send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if err := u.transport.SendFile(chunk); err != nil {
			return i, fmt.Errorf("dlc: send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		sent += len(chunk)

		if (i+1)%100 == 0 {
			slog.Info("[DLC] upload progress", "percent", fmt.Sprintf("%.1f", float64(sent)*100/float64(len(data))))
		}
		if u.opts.Progress != nil {
			u.opts.Progress(sent, len(data))
		}
	}
	return len(chunks), nil
}

// Validate reports whether data can be uploaded under filename.
func Validate(data []byte, filename string) error {
	switch {
	case len(data) == 0:
		return fmt.Errorf("%w: empty file", ErrInvalidUpload)
	case len(data) > protocol.MaxDLCSize:
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidUpload, len(data), protocol.MaxDLCSize)
	case filename == "":
		return fmt.Errorf("%w: empty filename", ErrInvalidUpload)
	}
	for i := 0; i < len(filename); i++ {
		if c := filename[i]; c == 0 || c > 0x7F {
			return fmt.Errorf("%w: filename %q must be ASCII", ErrInvalidUpload, filename)
		}
	}
	return nil
}
