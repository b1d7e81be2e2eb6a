package dlc

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/gofluff/internal/ble/protocol"
)

var (
	pktReady         = []byte{0x24, 0x02}
	pktReceivedOK    = []byte{0x24, 0x05}
	pktReceivedError = []byte{0x24, 0x06}
	pktTimedOut      = []byte{0x24, 0x03}
)

// fakeTransport records writes and lets scripted hooks answer them with
// primary notifications, the way a Furby would.
type fakeTransport struct {
	mu      sync.Mutex
	primary [][]byte
	files   [][]byte
	subs    map[int]func([]byte)
	nextID  int
	fileErr error

	onPrimary func(f *fakeTransport, data []byte)
	onFile    func(f *fakeTransport, sent int)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[int]func([]byte))}
}

func (f *fakeTransport) SendPrimary(data []byte) error {
	f.mu.Lock()
	f.primary = append(f.primary, bytes.Clone(data))
	hook := f.onPrimary
	f.mu.Unlock()
	if hook != nil {
		hook(f, data)
	}
	return nil
}

func (f *fakeTransport) SendFile(data []byte) error {
	f.mu.Lock()
	if f.fileErr != nil {
		f.mu.Unlock()
		return f.fileErr
	}
	f.files = append(f.files, bytes.Clone(data))
	n := len(f.files)
	hook := f.onFile
	f.mu.Unlock()
	if hook != nil {
		hook(f, n)
	}
	return nil
}

func (f *fakeTransport) OnPrimaryNotification(cb func([]byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subs[id] = cb
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeTransport) emit(data []byte) {
	f.mu.Lock()
	cbs := make([]func([]byte), 0, len(f.subs))
	for _, cb := range f.subs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(data)
	}
}

func (f *fakeTransport) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// readyOnAnnounce answers the announce with READY_TO_RECEIVE.
func readyOnAnnounce(f *fakeTransport, data []byte) {
	if data[0] == byte(protocol.CmdAnnounceDLCUpload) {
		f.emit(pktReady)
	}
}

// finishAfter answers the last of n chunks with status.
func finishAfter(n int, status []byte) func(*fakeTransport, int) {
	return func(f *fakeTransport, sent int) {
		if sent == n {
			f.emit(status)
		}
	}
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func TestUploadSuccess(t *testing.T) {
	data := testData(45)
	f := newFakeTransport()
	f.onPrimary = readyOnAnnounce
	f.onFile = finishAfter(3, pktReceivedOK)

	u := NewUploader(f, Options{ChunkDelay: time.Microsecond})
	res, err := u.Upload(context.Background(), data, "TEST.DLC", 2)
	require.NoError(t, err)

	require.Len(t, f.primary, 1, "exactly one announce packet")
	assert.Equal(t, protocol.BuildDLCAnnounce(45, 2, "TEST.DLC"), f.primary[0])
	assert.Len(t, f.files, protocol.ChunkCount(len(data), protocol.FileChunkSize))
	assert.Equal(t, data, bytes.Join(f.files, nil))
	for _, c := range f.files {
		assert.LessOrEqual(t, len(c), protocol.MaxPacketSize)
	}

	assert.Equal(t, "TEST.DLC", res.Filename)
	assert.Equal(t, uint8(2), res.Slot)
	assert.Equal(t, 45, res.Size)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, Digest(data), res.Digest)
	assert.Zero(t, f.subscribers(), "status callback must be removed")
}

func TestUploadRejected(t *testing.T) {
	data := testData(100)
	f := newFakeTransport()
	f.onPrimary = readyOnAnnounce
	f.onFile = finishAfter(5, pktReceivedError)

	u := NewUploader(f, Options{ChunkDelay: time.Microsecond})
	_, err := u.Upload(context.Background(), data, "BAD.DLC", 1)
	require.ErrorIs(t, err, ErrUploadRejected)
	assert.Zero(t, f.subscribers(), "status callback must be removed")

	// Later statuses reach nobody and later sends are unaffected.
	f.emit(pktReceivedOK)
	require.NoError(t, f.SendPrimary(protocol.BuildActivateDLC()))
	assert.Len(t, f.primary, 2)
}

func TestUploadDeviceTimeoutStatus(t *testing.T) {
	f := newFakeTransport()
	f.onPrimary = readyOnAnnounce
	f.onFile = finishAfter(1, pktTimedOut)

	u := NewUploader(f, Options{ChunkDelay: time.Microsecond})
	_, err := u.Upload(context.Background(), testData(10), "A.DLC", 1)
	require.ErrorIs(t, err, ErrUploadTimeout)
}

func TestUploadNotAcknowledged(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFakeTransport()
		u := NewUploader(f, DefaultOptions())

		start := time.Now()
		_, err := u.Upload(t.Context(), testData(10), "A.DLC", 1)
		require.ErrorIs(t, err, ErrUploadNotAcknowledged)
		assert.Equal(t, 10*time.Second, time.Since(start))
		assert.Empty(t, f.files, "no chunks before ready")
		assert.Zero(t, f.subscribers())
	})
}

func TestUploadNoConfirmation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFakeTransport()
		f.onPrimary = readyOnAnnounce
		u := NewUploader(f, Options{CompleteTimeout: 30 * time.Second})

		_, err := u.Upload(t.Context(), testData(10), "A.DLC", 1)
		require.ErrorIs(t, err, ErrUploadTimeout)
		assert.Len(t, f.files, 1)
		assert.Zero(t, f.subscribers())
	})
}

func TestUploadTerminalStatusBeforeReady(t *testing.T) {
	f := newFakeTransport()
	f.onPrimary = func(f *fakeTransport, data []byte) { f.emit(pktReceivedError) }

	u := NewUploader(f, DefaultOptions())
	_, err := u.Upload(context.Background(), testData(10), "A.DLC", 1)
	require.ErrorIs(t, err, ErrUploadRejected)
	assert.Empty(t, f.files)
}

func TestUploadAbortsOnMidTransferFailure(t *testing.T) {
	f := newFakeTransport()
	f.onPrimary = readyOnAnnounce
	f.onFile = finishAfter(2, pktReceivedError)

	u := NewUploader(f, Options{ChunkDelay: time.Microsecond})
	_, err := u.Upload(context.Background(), testData(200), "A.DLC", 1)
	require.ErrorIs(t, err, ErrUploadRejected)
	assert.Len(t, f.files, 2, "streaming stops once the Furby reports an error")
}

func TestUploadChunkWriteError(t *testing.T) {
	f := newFakeTransport()
	f.onPrimary = readyOnAnnounce
	f.fileErr = errors.New("link dropped")

	u := NewUploader(f, DefaultOptions())
	_, err := u.Upload(context.Background(), testData(10), "A.DLC", 1)
	require.ErrorContains(t, err, "link dropped")
	assert.Zero(t, f.subscribers())
}

func TestUploadPacesChunks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		f := newFakeTransport()
		f.onPrimary = readyOnAnnounce
		f.onFile = finishAfter(10, pktReceivedOK)
		u := NewUploader(f, Options{ChunkDelay: 5 * time.Millisecond})

		start := time.Now()
		_, err := u.Upload(t.Context(), testData(200), "A.DLC", 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	})
}

func TestUploadProgress(t *testing.T) {
	f := newFakeTransport()
	f.onPrimary = readyOnAnnounce
	f.onFile = finishAfter(3, pktReceivedOK)

	var calls [][2]int
	u := NewUploader(f, Options{
		ChunkDelay: time.Microsecond,
		Progress:   func(sent, total int) { calls = append(calls, [2]int{sent, total}) },
	})
	_, err := u.Upload(context.Background(), testData(50), "A.DLC", 1)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{20, 50}, {40, 50}, {50, 50}}, calls)
}

func TestUploadIgnoresOtherNotifications(t *testing.T) {
	f := newFakeTransport()
	f.onPrimary = func(f *fakeTransport, data []byte) {
		f.emit([]byte{0x20, 0x06})
		f.emit([]byte{0x21, 0x01})
		f.emit([]byte{0x24, 0x04}) // READY_TO_APPEND is not READY_TO_RECEIVE
		f.emit(pktReady)
	}
	f.onFile = finishAfter(1, pktReceivedOK)

	u := NewUploader(f, Options{ChunkDelay: time.Microsecond})
	_, err := u.Upload(context.Background(), testData(5), "A.DLC", 1)
	require.NoError(t, err)
}

func TestUploadValidation(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
	}{
		{"empty", nil, "A.DLC"},
		{"too large", make([]byte, protocol.MaxDLCSize+1), "A.DLC"},
		{"no name", testData(5), ""},
		{"non-ascii name", testData(5), "fürby.dlc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeTransport()
			u := NewUploader(f, DefaultOptions())
			_, err := u.Upload(context.Background(), tt.data, tt.filename, 1)
			require.ErrorIs(t, err, ErrInvalidUpload)
			assert.Empty(t, f.primary, "nothing is written for invalid uploads")
		})
	}
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SONG.DLC")
	data := testData(30)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f := newFakeTransport()
	f.onPrimary = readyOnAnnounce
	f.onFile = finishAfter(2, pktReceivedOK)

	u := NewUploader(f, Options{ChunkDelay: time.Microsecond})
	res, err := u.UploadFile(context.Background(), path, DefaultSlot)
	require.NoError(t, err)
	assert.Equal(t, "SONG.DLC", res.Filename)
	assert.Equal(t, protocol.BuildDLCAnnounce(30, DefaultSlot, "SONG.DLC"), f.primary[0])

	_, err = u.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.dlc"), 1)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDigest(t *testing.T) {
	assert.Equal(t,
		"0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		Digest(nil))
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
	assert.Len(t, Digest(testData(100)), 64)
}
