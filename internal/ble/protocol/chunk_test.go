package protocol

import (
	"bytes"
	"testing"
)

func TestChunkFitsInOne(t *testing.T) {
	data := []byte("hello")
	chunks := Chunk(data, FileChunkSize)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !bytes.Equal(chunks[0], data) {
		t.Errorf("chunk[0] = %q, want %q", chunks[0], data)
	}
}

func TestChunkEmpty(t *testing.T) {
	if chunks := Chunk(nil, FileChunkSize); chunks != nil {
		t.Errorf("Chunk(nil) = %v, want nil", chunks)
	}
}

func TestChunkExactFit(t *testing.T) {
	data := bytes.Repeat([]byte{0xAA}, FileChunkSize*3)
	chunks := Chunk(data, FileChunkSize)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != FileChunkSize {
			t.Errorf("chunk[%d] len = %d, want %d", i, len(c), FileChunkSize)
		}
	}
}

func TestChunkOneByteOver(t *testing.T) {
	data := bytes.Repeat([]byte{0x01}, FileChunkSize+1)
	chunks := Chunk(data, FileChunkSize)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[1]) != 1 {
		t.Errorf("last chunk len = %d, want 1", len(chunks[1]))
	}
}

func TestChunkReassembles(t *testing.T) {
	data := make([]byte, 1001)
	for i := range data {
		data[i] = byte(i)
	}
	chunks := Chunk(data, FileChunkSize)
	if len(chunks) != ChunkCount(len(data), FileChunkSize) {
		t.Errorf("got %d chunks, ChunkCount says %d", len(chunks), ChunkCount(len(data), FileChunkSize))
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
		t.Error("reassembled chunks differ from input")
	}
}

func TestChunkCapsCapacity(t *testing.T) {
	// Appending to a chunk must not scribble over the next one.
	data := []byte{1, 2, 3, 4}
	chunks := Chunk(data, 2)
	_ = append(chunks[0], 9)
	if data[2] != 3 {
		t.Errorf("append to chunk[0] modified input: %v", data)
	}
}

func TestChunkZeroSize(t *testing.T) {
	if chunks := Chunk([]byte("hello"), 0); chunks != nil {
		t.Errorf("Chunk with size=0 should return nil, got %v", chunks)
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		n, size, want int
	}{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{40, 20, 2},
		{1000, 20, 50},
		{5, 0, 0},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.n, tt.size); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
}
