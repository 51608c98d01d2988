// Package session defines the compute session consumed by the orchestrator
// and the connection manager that hands it out.
package session

import (
	"context"

	"cellrun/internal/domain"
)

// Session is a long-lived compute session. Run may call onLog any number of
// times before it returns; the orchestrator never overlaps Run calls.
type Session interface {
	Setup(ctx context.Context) error
	Run(ctx context.Context, code string, onLog func([]domain.LogLine)) (domain.Result, error)
}

// Canceler is optional. Sessions that can stop an in-flight run implement it;
// Cancel is fire-and-forget.
type Canceler interface {
	Cancel()
}

// Provider returns the session to use for the next batch.
type Provider interface {
	Session(ctx context.Context) (Session, error)
}

// Resetter is optional. A provider implementing it drops its cached session
// when setup fails, so the next batch reconnects.
type Resetter interface {
	Reset()
}
