package protocol

// Chunk splits data into consecutive slices of at most size bytes. The
// chunks alias data. Returns nil for empty data or a non-positive size.
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, ChunkCount(len(data), size))
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}

// ChunkCount returns how many writes of size bytes are needed for n bytes.
func ChunkCount(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
