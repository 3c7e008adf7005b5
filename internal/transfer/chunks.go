package transfer

import (
	"fmt"
	"sync"
)

// ChunkState tracks one chunk through a session.
type ChunkState string

const (
	ChunkPending  ChunkState = "pending"
	ChunkFetched  ChunkState = "fetched"
	ChunkVerified ChunkState = "verified"
)

// Chunk is one contiguous byte range of a download.
type Chunk struct {
	Index    int        `json:"index"`
	Offset   int64      `json:"offset"`
	Length   int64      `json:"length"`
	State    ChunkState `json:"state"`
	Attempts int        `json:"attempts"`
}

// PlanChunks splits total bytes into contiguous chunks of at most size bytes.
// The chunks cover [0, total) exactly once.
func PlanChunks(total, size int64) []Chunk {
	if total <= 0 || size <= 0 {
		return nil
	}
	count := int((total + size - 1) / size)
	chunks := make([]Chunk, count)
	for i := range chunks {
		offset := int64(i) * size
		length := min(size, total-offset)
		chunks[i] = Chunk{Index: i, Offset: offset, Length: length, State: ChunkPending}
	}
	return chunks
}

// chunkMap guards chunk state shared between fetch workers.
type chunkMap struct {
	mu     sync.Mutex
	chunks []Chunk
	done   int64
	total  int64
}

func newChunkMap(chunks []Chunk, total int64) *chunkMap {
	return &chunkMap{chunks: chunks, total: total}
}

func (m *chunkMap) attempt(i int) {
	m.mu.Lock()
	m.chunks[i].Attempts++
	m.chunks[i].State = ChunkPending
	m.mu.Unlock()
}

func (m *chunkMap) fetched(i int) {
	m.mu.Lock()
	m.chunks[i].State = ChunkFetched
	m.mu.Unlock()
}

// verify moves a fetched chunk to verified when n matches its length and
// returns the overall completion percentage.
func (m *chunkMap) verify(i int, n int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &m.chunks[i]
	if c.State != ChunkFetched {
		return 0, fmt.Errorf("chunk %d verified from state %s", i, c.State)
	}
	if n != c.Length {
		c.State = ChunkPending
		return 0, fmt.Errorf("chunk %d: got %d bytes, want %d", i, n, c.Length)
	}
	c.State = ChunkVerified
	m.done += n
	return float64(m.done) / float64(m.total) * 100, nil
}

func (m *chunkMap) allVerified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		if c.State != ChunkVerified {
			return false
		}
	}
	return true
}

func (m *chunkMap) snapshot() []Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Chunk(nil), m.chunks...)
}
