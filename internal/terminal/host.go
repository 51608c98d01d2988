// Package terminal renders notebook execution to a text stream.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"cellrun/internal/domain"
	"cellrun/internal/stream"
)

type Options struct {
	// HTMLDir receives one file per rich output item when set.
	HTMLDir string
	// LiveLogs means log lines are printed through StreamLogs as they arrive,
	// so the final log item is not printed again.
	LiveLogs bool
	MaxChunk int
}

type Host struct {
	out  io.Writer
	opts Options

	mu      sync.Mutex
	started map[int]time.Time
	orders  map[int]int64
}

func New(out io.Writer, opts Options) *Host {
	return &Host{
		out:     stream.NewChunkWriter(out, opts.MaxChunk),
		opts:    opts,
		started: make(map[int]time.Time),
		orders:  make(map[int]int64),
	}
}

func (h *Host) Notify(_ context.Context, msg string) {
	h.printf("error: %s\n", msg)
}

func (h *Host) Progress(ctx context.Context, title string, done <-chan struct{}) {
	h.printf("... %s\n", title)
	go func() {
		select {
		case <-done:
			h.printf("... %s: done\n", title)
		case <-ctx.Done():
		}
	}()
}

func (h *Host) CellStarted(_ context.Context, cell domain.Cell, order int64, at time.Time) {
	h.mu.Lock()
	h.started[cell.Index] = at
	h.orders[cell.Index] = order
	h.mu.Unlock()
	h.printf("[%d] cell %d (%s) running\n", order, cell.Index, cell.Language)
}

func (h *Host) StreamLogs(cell domain.Cell, lines []domain.LogLine) {
	var b strings.Builder
	for _, l := range lines {
		writeLogLine(&b, l)
	}
	h.printf("%s", b.String())
}

func (h *Host) CellOutput(_ context.Context, cell domain.Cell, items []domain.OutputItem) {
	var b strings.Builder
	for _, item := range items {
		switch item.MIME {
		case domain.MIMEHTML:
			b.WriteString(h.renderHTML(cell, item.Data))
		case domain.MIMELogLines:
			if h.opts.LiveLogs {
				continue
			}
			var lines []domain.LogLine
			if err := json.Unmarshal(item.Data, &lines); err != nil {
				fmt.Fprintf(&b, "  (unreadable log output: %v)\n", err)
				continue
			}
			for _, l := range lines {
				writeLogLine(&b, l)
			}
		case domain.MIMEError:
			var payload struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(item.Data, &payload); err != nil {
				payload.Message = string(item.Data)
			}
			fmt.Fprintf(&b, "  error: %s\n", payload.Message)
		default:
			fmt.Fprintf(&b, "  (%s, %d bytes)\n", item.MIME, len(item.Data))
		}
	}
	h.printf("%s", b.String())
}

func (h *Host) CellEnded(_ context.Context, cell domain.Cell, status domain.ExecStatus, at time.Time) {
	h.mu.Lock()
	start, ok := h.started[cell.Index]
	order := h.orders[cell.Index]
	delete(h.started, cell.Index)
	delete(h.orders, cell.Index)
	h.mu.Unlock()
	if !ok {
		h.printf("cell %d %s\n", cell.Index, status)
		return
	}
	h.printf("[%d] cell %d %s in %s\n", order, cell.Index, status, at.Sub(start).Round(time.Millisecond))
}

func (h *Host) renderHTML(cell domain.Cell, data []byte) string {
	label := "html output"
	if title := htmlTitle(data); title != "" {
		label += " " + strconv.Quote(title)
	}
	if h.opts.HTMLDir == "" {
		return fmt.Sprintf("  (%s, %d bytes)\n", label, len(data))
	}
	h.mu.Lock()
	order := h.orders[cell.Index]
	h.mu.Unlock()
	path := filepath.Join(h.opts.HTMLDir, fmt.Sprintf("cell-%d-%d.html", cell.Index, order))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Sprintf("  (%s not saved: %v)\n", label, err)
	}
	return fmt.Sprintf("  %s: %s\n", label, path)
}

func writeLogLine(b *strings.Builder, l domain.LogLine) {
	if l.Type == domain.LogTypeError {
		b.WriteString("  ! ")
	} else {
		b.WriteString("  | ")
	}
	b.WriteString(l.Line)
	b.WriteString("\n")
}

func (h *Host) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(h.out, format, args...)
}
