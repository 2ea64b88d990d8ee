// Package audio handles PCM accumulation and fixed-size chunking for the
// client-to-upstream audio path.
package audio

import (
	"errors"
	"sync"
	"time"
)

// ErrBufferFull is returned when an append would exceed the maximum size
var ErrBufferFull = errors.New("audio buffer full")

const bytesPerSample = 2 // 16-bit mono PCM

// ChunkBytes returns the chunk size in bytes for a sample rate and duration,
// e.g. 24000 Hz at 100ms = 4800 bytes.
func ChunkBytes(sampleRate int, d time.Duration) int {
	samples := sampleRate * int(d/time.Millisecond) / 1000
	return samples * bytesPerSample
}

// Framer accumulates arbitrary-sized PCM fragments and slices them into
// fixed-size chunks. It is owned by a single pump; the mutex only guards
// against the session teardown path clearing it concurrently.
type Framer struct {
	buf       []byte
	chunkSize int
	maxSize   int
	mu        sync.Mutex
}

// NewFramer creates a framer producing chunks of chunkSize bytes.
// maxSize caps the accumulated backlog; 0 means no cap.
func NewFramer(chunkSize, maxSize int) *Framer {
	return &Framer{
		buf:       make([]byte, 0, chunkSize),
		chunkSize: chunkSize,
		maxSize:   maxSize,
	}
}

// ChunkSize returns the configured chunk size in bytes.
func (f *Framer) ChunkSize() int {
	return f.chunkSize
}

// Append adds a PCM fragment to the buffer.
// Returns ErrBufferFull if adding the fragment would exceed maxSize.
func (f *Framer) Append(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.maxSize > 0 && len(f.buf)+len(p) > f.maxSize {
		return ErrBufferFull
	}
	f.buf = append(f.buf, p...)
	return nil
}

// Drain returns all complete chunks accumulated so far, leaving any
// remainder (< chunk size) buffered for the next append.
func (f *Framer) Drain() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.buf) / f.chunkSize
	if n == 0 {
		return nil
	}

	chunks := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		chunk := make([]byte, f.chunkSize)
		copy(chunk, f.buf[i*f.chunkSize:(i+1)*f.chunkSize])
		chunks = append(chunks, chunk)
	}

	rest := len(f.buf) - n*f.chunkSize
	copy(f.buf, f.buf[n*f.chunkSize:])
	f.buf = f.buf[:rest]

	return chunks
}

// FlushRemainder returns the final partial chunk, or nil if nothing is
// buffered. The buffer is left empty.
func (f *Framer) FlushRemainder() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buf) == 0 {
		return nil
	}
	rem := make([]byte, len(f.buf))
	copy(rem, f.buf)
	f.buf = f.buf[:0]
	return rem
}

// Clear empties the buffer without returning data.
func (f *Framer) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = f.buf[:0]
}

// Buffered returns the current number of buffered bytes.
func (f *Framer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// Silence returns zero-filled chunks covering the given duration at the
// given sample rate. Used to pad the tail of an utterance so the upstream
// turn detector recognizes end-of-speech promptly. The final chunk may be
// shorter than the framer's chunk size.
func (f *Framer) Silence(sampleRate int, d time.Duration) [][]byte {
	total := ChunkBytes(sampleRate, d)
	if total <= 0 {
		return nil
	}

	var chunks [][]byte
	for total > 0 {
		n := f.chunkSize
		if total < n {
			n = total
		}
		chunks = append(chunks, make([]byte, n))
		total -= n
	}
	return chunks
}
