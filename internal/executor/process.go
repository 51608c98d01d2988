package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"cellrun/internal/domain"
	"cellrun/internal/session"
)

// HTMLOutputEnv names the environment variable holding the path a run may
// write its rich HTML artifact to.
const HTMLOutputEnv = "CELLRUN_HTML_OUT"

const (
	defaultRunTimeout = 30 * time.Minute
	// pipes are force-closed this long after a killed run
	pipeWaitDelay  = 2 * time.Second
	maxLogLineSize = 1024 * 1024
)

var ErrRunCancelled = errors.New("run cancelled")

type ProcessConfig struct {
	Binary    string
	Args      []string
	SetupCode string
	Workdir   string
	Env       []string
	Timeout   time.Duration
}

// ProcessSession runs each submission through an interpreter process. The
// prepared code is written to stdin; stdout and stderr lines become log lines.
type ProcessSession struct {
	cfg ProcessConfig

	mu     sync.Mutex
	path   string
	cancel context.CancelFunc
	closed bool
}

func NewProcessSession(cfg ProcessConfig) *ProcessSession {
	return &ProcessSession{cfg: cfg}
}

func (s *ProcessSession) Setup(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.Binary) == "" {
		return session.MessageError("session command is empty", nil)
	}
	path, err := exec.LookPath(s.cfg.Binary)
	if err != nil {
		return session.MessageError(fmt.Sprintf("session command %q not found", s.cfg.Binary), err)
	}
	s.mu.Lock()
	s.path = path
	s.closed = false
	s.mu.Unlock()

	if strings.TrimSpace(s.cfg.SetupCode) == "" {
		return nil
	}
	var stderr []string
	_, err = s.Run(ctx, s.cfg.SetupCode, func(lines []domain.LogLine) {
		for _, l := range lines {
			if l.Type == domain.LogTypeError {
				stderr = append(stderr, l.Line)
			}
		}
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]any{
			"command": s.cfg.Binary,
			"error":   err.Error(),
			"stderr":  stderr,
		})
		return session.PayloadError(payload, err)
	}
	return nil
}

func (s *ProcessSession) Run(ctx context.Context, code string, onLog func([]domain.LogLine)) (domain.Result, error) {
	s.mu.Lock()
	path := s.path
	if path == "" || s.closed {
		s.mu.Unlock()
		return domain.Result{}, errors.New("session is not set up")
	}
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRunTimeout
	}
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	ctx, cancel := context.WithCancelCause(ctx)
	s.cancel = func() { cancel(ErrRunCancelled) }
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel(nil)
		cancelTimeout()
	}()

	htmlFile, err := os.CreateTemp("", "cellrun-*.html")
	if err != nil {
		return domain.Result{}, fmt.Errorf("create html output: %w", err)
	}
	htmlPath := htmlFile.Name()
	_ = htmlFile.Close()
	defer os.Remove(htmlPath)

	cmd := exec.CommandContext(ctx, path, s.cfg.Args...)
	killProcessGroup(cmd)
	cmd.WaitDelay = pipeWaitDelay
	cmd.Dir = s.cfg.Workdir
	cmd.Env = append(append(os.Environ(), s.cfg.Env...), HTMLOutputEnv+"="+htmlPath)
	cmd.Stdin = strings.NewReader(code)
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return domain.Result{}, fmt.Errorf("start command: %w", err)
	}

	var emitMu sync.Mutex
	send := func(line domain.LogLine) {
		if onLog == nil {
			return
		}
		emitMu.Lock()
		onLog([]domain.LogLine{line})
		emitMu.Unlock()
	}
	var wg sync.WaitGroup
	emit := func(logType string, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 1024), maxLogLineSize)
		for scanner.Scan() {
			send(domain.LogLine{Type: logType, Line: scanner.Text()})
		}
		if err := scanner.Err(); err != nil {
			send(domain.LogLine{Type: domain.LogTypeError, Line: fmt.Sprintf("cellrun: remaining %s output dropped: %v", logType, err)})
			_, _ = io.Copy(io.Discard, r)
		}
	}
	wg.Add(2)
	go emit(domain.LogTypeNormal, stdoutR)
	go emit(domain.LogTypeError, stderrR)
	waitErr := cmd.Wait()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	wg.Wait()

	if waitErr != nil {
		if cause := context.Cause(ctx); cause != nil {
			return domain.Result{}, cause
		}
		return domain.Result{}, fmt.Errorf("command failed: %w", waitErr)
	}

	raw, err := os.ReadFile(htmlPath)
	if err != nil {
		return domain.Result{}, fmt.Errorf("read html output: %w", err)
	}
	return domain.Result{HTML: string(bytes.TrimSpace(raw))}, nil
}

// Cancel stops the in-flight run, if any.
func (s *ProcessSession) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		slog.Info("cancelling in-flight run", "command", s.cfg.Binary)
		cancel()
	}
}

// Stale reports whether the session was closed and needs to be rebuilt.
func (s *ProcessSession) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *ProcessSession) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
