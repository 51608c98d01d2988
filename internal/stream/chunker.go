package stream

import (
	"io"
	"sync"
)

// ChunkWriter splits large writes into pieces of at most maxChunk bytes so a
// slow terminal or pipe never receives one oversized write.
type ChunkWriter struct {
	out      io.Writer
	maxChunk int

	mu sync.Mutex
}

func NewChunkWriter(out io.Writer, maxChunk int) *ChunkWriter {
	if maxChunk <= 0 {
		maxChunk = 3500
	}
	return &ChunkWriter{out: out, maxChunk: maxChunk}
}

func (w *ChunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	written := 0
	for len(p) > w.maxChunk {
		n, err := w.out.Write(p[:w.maxChunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[w.maxChunk:]
	}
	if len(p) == 0 {
		return written, nil
	}
	n, err := w.out.Write(p)
	return written + n, err
}
