package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cellrun/internal/cancel"
	"cellrun/internal/codeprep"
	"cellrun/internal/domain"
	"cellrun/internal/session"
)

var ErrSetupFailed = errors.New("session setup failed")

const (
	setupProgressTitle  = "Setting up session"
	cancelProgressTitle = "Cancelling"
)

// Settings exposes the mutable user settings read while a batch runs.
type Settings interface {
	RenderRichOutput(ctx context.Context) bool
}

// StaticSettings is a fixed Settings value.
type StaticSettings bool

func (s StaticSettings) RenderRichOutput(context.Context) bool { return bool(s) }

// Options holds optional collaborators passed to NewOrchestrator.
type Options struct {
	Logger *slog.Logger
	Now    func() time.Time
	// OnLog observes log chunks as the session delivers them.
	OnLog func(cell domain.Cell, lines []domain.LogLine)
}

// Report describes one finished batch. Cells after an interruption have no
// execution.
type Report struct {
	BatchID     string
	Executions  []*CellExecution
	Interrupted bool
}

// Orchestrator runs batches of cells against the provider's session. Batches
// are serialized; Interrupt may be called from any goroutine.
type Orchestrator struct {
	sessions session.Provider
	host     domain.Host
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
	onLog    func(domain.Cell, []domain.LogLine)

	batchMu sync.Mutex

	mu      sync.Mutex
	order   int64
	signal  *cancel.Signal
	running bool
	current session.Session
}

func NewOrchestrator(sessions session.Provider, host domain.Host, settings Settings, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Logger: slog.Default(),
		Now:    func() time.Time { return time.Now().UTC() },
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if settings == nil {
		settings = StaticSettings(false)
	}
	return &Orchestrator{
		sessions: sessions,
		host:     host,
		settings: settings,
		logger:   opts.Logger,
		now:      opts.Now,
		onLog:    opts.OnLog,
	}
}

// Order returns the last execution order number handed out.
func (o *Orchestrator) Order() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.order
}

// Execute runs cells in order. Setup failure aborts the batch before any cell
// runs; a failing cell only affects its own output.
func (o *Orchestrator) Execute(ctx context.Context, cells []domain.Cell) (*Report, error) {
	o.batchMu.Lock()
	defer o.batchMu.Unlock()

	report := &Report{BatchID: uuid.NewString()}
	logger := o.logger.With("batch_id", report.BatchID)

	o.mu.Lock()
	if o.signal != nil {
		// a signal left over from an idle interrupt
		o.signal.Resolve()
		o.signal = nil
	}
	o.running = true
	o.mu.Unlock()
	defer o.finishBatch()

	logger.Info("batch started", "cells", len(cells))

	sess, err := o.sessions.Session(ctx)
	if err != nil {
		o.host.Notify(ctx, session.Describe(err))
		logger.Error("acquire session failed", "error", err)
		return report, fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}
	o.mu.Lock()
	o.current = sess
	early := o.signal != nil
	o.mu.Unlock()
	if early {
		logger.Info("batch interrupted before setup")
		report.Interrupted = true
		return report, nil
	}

	setupDone := make(chan struct{})
	o.host.Progress(ctx, setupProgressTitle, setupDone)
	err = sess.Setup(ctx)
	close(setupDone)
	if err != nil {
		if o.interrupted() {
			logger.Info("batch interrupted during setup", "error", err)
			report.Interrupted = true
			return report, nil
		}
		o.host.Notify(ctx, session.Describe(err))
		logger.Error("session setup failed", "error", err)
		if r, ok := o.sessions.(session.Resetter); ok {
			r.Reset()
		}
		return report, fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	for _, cell := range cells {
		if o.interrupted() {
			logger.Info("batch interrupted", "remaining_from", cell.Index)
			break
		}
		if err := ctx.Err(); err != nil {
			logger.Info("batch stopped", "reason", err)
			return report, err
		}
		report.Executions = append(report.Executions, o.runCell(ctx, sess, cell, logger))
	}
	if o.interrupted() {
		report.Interrupted = true
	}

	logger.Info("batch finished", "executed", len(report.Executions), "interrupted", report.Interrupted)
	return report, nil
}

// Interrupt stops queued cells from starting and asks the session to cancel
// the in-flight run. The returned signal resolves once the running cell has
// reached a terminal state. Calling Interrupt again before the next batch
// returns the same signal.
func (o *Orchestrator) Interrupt(ctx context.Context) *cancel.Signal {
	o.mu.Lock()
	if o.signal != nil {
		sig := o.signal
		o.mu.Unlock()
		return sig
	}
	sig := cancel.New()
	o.signal = sig
	running := o.running
	sess := o.current
	if !running {
		sig.Resolve()
	}
	o.mu.Unlock()

	o.host.Progress(ctx, cancelProgressTitle, sig.Done())
	if !running {
		return sig
	}
	o.logger.Info("interrupt requested")
	if c, ok := sess.(session.Canceler); ok {
		c.Cancel()
	}
	return sig
}

func (o *Orchestrator) runCell(ctx context.Context, sess session.Session, cell domain.Cell, logger *slog.Logger) *CellExecution {
	exec := newCellExecution(cell)
	o.mu.Lock()
	o.order++
	order := o.order
	o.mu.Unlock()

	exec.start(order, o.now())
	o.host.CellStarted(ctx, cell, order, exec.StartedAt)

	if o.onLog != nil {
		exec.logs.Tee(func(lines []domain.LogLine) { o.onLog(cell, lines) })
	}
	code := codeprep.Prepare(cell.Source, cell.Language, o.settings.RenderRichOutput(ctx))
	res, err := sess.Run(ctx, code, exec.logs.Append)
	if err != nil {
		exec.fail(err, o.now())
		logger.Warn("cell failed", "cell", cell.Index, "order", order, "error", err)
	} else {
		exec.succeed(res, o.now())
		logger.Debug("cell succeeded", "cell", cell.Index, "order", order, "log_lines", exec.logs.Len())
	}
	o.host.CellOutput(ctx, cell, exec.Outputs)
	o.host.CellEnded(ctx, cell, exec.Status, exec.EndedAt)

	o.resolvePending()
	return exec
}

func (o *Orchestrator) interrupted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.signal != nil
}

// resolvePending resolves a pending signal. The signal stays in place so the
// loop keeps seeing the interruption until the next batch clears it.
func (o *Orchestrator) resolvePending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.signal != nil {
		o.signal.Resolve()
	}
}

func (o *Orchestrator) finishBatch() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.current = nil
	if o.signal != nil {
		o.signal.Resolve()
	}
}
