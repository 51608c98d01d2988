package terminal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellrun/internal/domain"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestHostRendersCellLifecycle(t *testing.T) {
	out := &syncBuffer{}
	h := New(out, Options{})
	ctx := context.Background()
	cell := domain.Cell{Index: 2, Language: domain.LanguageSQL}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	h.CellStarted(ctx, cell, 7, start)
	h.CellOutput(ctx, cell, []domain.OutputItem{
		{MIME: domain.MIMEHTML, Data: []byte("<p>x</p>")},
		{MIME: domain.MIMELogLines, Data: []byte(`[{"type":"normal","line":"NOTE: ok"},{"type":"error","line":"ERROR: no"}]`)},
	})
	h.CellEnded(ctx, cell, domain.ExecSucceeded, start.Add(1500*time.Millisecond))

	got := out.String()
	assert.Contains(t, got, "[7] cell 2 (sql) running")
	assert.Contains(t, got, "(html output, 8 bytes)")
	assert.Contains(t, got, "  | NOTE: ok\n")
	assert.Contains(t, got, "  ! ERROR: no\n")
	assert.Contains(t, got, "[7] cell 2 succeeded in 1.5s")
}

func TestHostRendersError(t *testing.T) {
	out := &syncBuffer{}
	h := New(out, Options{})
	h.CellOutput(context.Background(), domain.Cell{}, []domain.OutputItem{
		{MIME: domain.MIMEError, Data: []byte(`{"name":"Error","message":"E: boom"}`)},
	})
	assert.Contains(t, out.String(), "error: E: boom")
}

func TestHostLiveLogsSkipsFinalLogItem(t *testing.T) {
	out := &syncBuffer{}
	h := New(out, Options{LiveLogs: true})
	cell := domain.Cell{Index: 0}
	h.StreamLogs(cell, []domain.LogLine{{Line: "live"}})
	h.CellOutput(context.Background(), cell, []domain.OutputItem{
		{MIME: domain.MIMELogLines, Data: []byte(`[{"type":"normal","line":"live"}]`)},
	})
	assert.Equal(t, "  | live\n", out.String())
}

func TestHostWritesHTMLFiles(t *testing.T) {
	dir := t.TempDir()
	out := &syncBuffer{}
	h := New(out, Options{HTMLDir: dir})
	cell := domain.Cell{Index: 1}
	h.CellStarted(context.Background(), cell, 3, time.Now())
	h.CellOutput(context.Background(), cell, []domain.OutputItem{{MIME: domain.MIMEHTML, Data: []byte("<p>x</p>")}})

	data, err := os.ReadFile(filepath.Join(dir, "cell-1-3.html"))
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", string(data))
}

func TestHostShowsHTMLTitle(t *testing.T) {
	dir := t.TempDir()
	out := &syncBuffer{}
	h := New(out, Options{HTMLDir: dir})
	cell := domain.Cell{Index: 4}
	h.CellStarted(context.Background(), cell, 9, time.Now())
	h.CellOutput(context.Background(), cell, []domain.OutputItem{
		{MIME: domain.MIMEHTML, Data: []byte("<html><title>Sales by region</title></html>")},
	})
	assert.Contains(t, out.String(), `html output "Sales by region": `+filepath.Join(dir, "cell-4-9.html"))
}

func TestHostProgressReportsCompletion(t *testing.T) {
	out := &syncBuffer{}
	h := New(out, Options{})
	done := make(chan struct{})
	h.Progress(context.Background(), "Cancelling", done)
	close(done)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("... Cancelling: done"))
	}, time.Second, 5*time.Millisecond)
	h.Notify(context.Background(), "license expired")
	assert.Contains(t, out.String(), "error: license expired")
}
