package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellrun/internal/domain"
	"cellrun/internal/session"
)

type lineCollector struct {
	mu    sync.Mutex
	lines []domain.LogLine
}

func (c *lineCollector) onLog(lines []domain.LogLine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, lines...)
}

func (c *lineCollector) text(logType string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, l := range c.lines {
		if l.Type == logType {
			out = append(out, l.Line)
		}
	}
	return out
}

func newShellSession(t *testing.T) *ProcessSession {
	t.Helper()
	s := NewProcessSession(ProcessConfig{Binary: "/bin/sh", Args: []string{"-s"}, Timeout: 5 * time.Second})
	require.NoError(t, s.Setup(context.Background()))
	return s
}

func TestProcessSessionStreamsLogs(t *testing.T) {
	s := newShellSession(t)
	c := &lineCollector{}

	res, err := s.Run(context.Background(), "echo one\necho two\necho oops >&2\n", c.onLog)
	require.NoError(t, err)
	assert.Equal(t, "", res.HTML)
	assert.Equal(t, []string{"one", "two"}, c.text(domain.LogTypeNormal))
	assert.Equal(t, []string{"oops"}, c.text(domain.LogTypeError))
}

func TestProcessSessionReadsHTMLArtifact(t *testing.T) {
	s := newShellSession(t)
	code := `printf '<html><title> Report </title><body>ok</body></html>' > "$` + HTMLOutputEnv + `"`

	res, err := s.Run(context.Background(), code, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.HTML, "<html>"))
	assert.True(t, strings.HasSuffix(res.HTML, "</html>"))
}

func TestProcessSessionRunFailure(t *testing.T) {
	s := newShellSession(t)
	_, err := s.Run(context.Background(), "exit 3\n", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command failed")
}

func TestProcessSessionCancelStopsRun(t *testing.T) {
	s := newShellSession(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "exec sleep 5\n", nil)
		errCh <- err
	}()
	time.Sleep(100 * time.Millisecond)
	s.Cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrRunCancelled), "got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestProcessSessionCancelKillsChildProcesses(t *testing.T) {
	s := newShellSession(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "sleep 6; echo finished\n", nil)
		errCh <- err
	}()
	time.Sleep(200 * time.Millisecond)
	cancelledAt := time.Now()
	s.Cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrRunCancelled)
		assert.Less(t, time.Since(cancelledAt), 3*time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("run waited for the child process after cancel")
	}
}

func TestProcessSessionOverlongLineDoesNotBlock(t *testing.T) {
	s := NewProcessSession(ProcessConfig{Binary: "/bin/sh", Args: []string{"-s"}, Timeout: 2 * time.Second})
	require.NoError(t, s.Setup(context.Background()))
	c := &lineCollector{}

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), "head -c 2000000 /dev/zero | tr '\\0' x; echo\necho after\n", c.onLog)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(8 * time.Second):
		t.Fatal("run blocked on an overlong output line")
	}
	errs := c.text(domain.LogTypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "token too long")
	assert.Empty(t, c.text(domain.LogTypeNormal))
}

func TestProcessSessionTimeout(t *testing.T) {
	s := NewProcessSession(ProcessConfig{Binary: "/bin/sh", Args: []string{"-s"}, Timeout: 300 * time.Millisecond})
	require.NoError(t, s.Setup(context.Background()))

	start := time.Now()
	_, err := s.Run(context.Background(), "sleep 5; echo late\n", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestProcessSessionSetupMissingBinary(t *testing.T) {
	s := NewProcessSession(ProcessConfig{Binary: "cellrun-definitely-missing-binary"})
	err := s.Setup(context.Background())
	var se *session.SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, session.KindMessage, se.Kind)
	assert.Contains(t, session.Describe(err), "not found")
}

func TestProcessSessionSetupCodeFailureCarriesPayload(t *testing.T) {
	s := NewProcessSession(ProcessConfig{Binary: "/bin/sh", Args: []string{"-s"}, SetupCode: "echo denied >&2\nexit 1\n"})
	err := s.Setup(context.Background())
	var se *session.SetupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, session.KindPayload, se.Kind)
	assert.Contains(t, session.Describe(err), `"stderr":["denied"]`)
}

func TestProcessSessionRunBeforeSetup(t *testing.T) {
	s := NewProcessSession(ProcessConfig{Binary: "/bin/sh"})
	_, err := s.Run(context.Background(), "echo hi", nil)
	require.Error(t, err)
}

func TestProcessSessionCloseMarksStale(t *testing.T) {
	s := newShellSession(t)
	assert.False(t, s.Stale())
	require.NoError(t, s.Close())
	assert.True(t, s.Stale())
}
