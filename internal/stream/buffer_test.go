package stream

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellrun/internal/domain"
)

func TestLogBufferKeepsDeliveryOrder(t *testing.T) {
	b := NewLogBuffer()
	b.Append([]domain.LogLine{{Type: domain.LogTypeNormal, Line: "a"}, {Type: domain.LogTypeNormal, Line: "b"}})
	b.Append(nil)
	b.Append([]domain.LogLine{{Type: domain.LogTypeError, Line: "c"}})

	lines := b.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{lines[0].Line, lines[1].Line, lines[2].Line})
	assert.Equal(t, domain.LogTypeError, lines[2].Type)
}

func TestLogBufferLinesIsACopy(t *testing.T) {
	b := NewLogBuffer()
	b.Append([]domain.LogLine{{Line: "a"}})
	lines := b.Lines()
	lines[0].Line = "mutated"
	assert.Equal(t, "a", b.Lines()[0].Line)
}

func TestLogBufferTeeSeesEveryChunk(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	b := NewLogBuffer().Tee(func(lines []domain.LogLine) {
		mu.Lock()
		defer mu.Unlock()
		for _, l := range lines {
			seen = append(seen, l.Line)
		}
	})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Append([]domain.LogLine{{Line: fmt.Sprint(i)}})
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, b.Len())
	var recorded []string
	for _, l := range b.Lines() {
		recorded = append(recorded, l.Line)
	}
	assert.ElementsMatch(t, recorded, seen)
}

func TestLogBufferSlowTeeDoesNotBlockAppend(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	b := NewLogBuffer().Tee(func(lines []domain.LogLine) {
		if lines[0].Line == "slow" {
			entered <- struct{}{}
			<-release
		}
	})
	go b.Append([]domain.LogLine{{Line: "slow"}})
	<-entered

	appended := make(chan struct{})
	go func() {
		b.Append([]domain.LogLine{{Line: "next"}})
		close(appended)
	}()
	select {
	case <-appended:
	case <-time.After(time.Second):
		t.Fatal("append blocked behind a slow tee")
	}
	assert.Equal(t, 2, b.Len())
	close(release)
}

type recordingWriter struct {
	writes []string
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func TestChunkWriterSplitsLargeWrites(t *testing.T) {
	rec := &recordingWriter{}
	w := NewChunkWriter(rec, 4)
	n, err := w.Write([]byte("abcdefghij"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, rec.writes)
}

func TestChunkWriterSmallWrite(t *testing.T) {
	var buf bytes.Buffer
	w := NewChunkWriter(&buf, 0)
	_, err := w.Write([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", buf.String())
}
