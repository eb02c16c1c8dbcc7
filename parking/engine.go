/*
engine.go - Engine construction and shared plumbing

PURPOSE:
  Engine is the single entry point for mutating operations. It holds the
  transactional store, a clock, an ID generator, a logger and an optional
  cache invalidator. Each public operation runs inside one WithTx call.

USAGE:
  engine := parking.NewEngine(store,
      parking.WithLogger(logger),
      parking.WithInvalidator(reporter),
  )
  lot, err := engine.CreateLot(ctx, admin, parking.LotInput{...})

TESTING:
  WithClock lets tests control "now" so costs are deterministic.
*/
package parking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Clock returns the current time.
type Clock func() time.Time

// Invalidator drops cached read models for a lot after it changes.
type Invalidator interface {
	InvalidateLot(ctx context.Context, lotID LotID)
}

type Engine struct {
	store       TxStore
	now         Clock
	newID       func() string
	log         *zap.Logger
	invalidator Invalidator
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.now = c } }

func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l } }

func WithInvalidator(i Invalidator) Option { return func(e *Engine) { e.invalidator = i } }

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(f func() string) Option { return func(e *Engine) { e.newID = f } }

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) invalidate(ctx context.Context, lotID LotID) {
	if e.invalidator != nil {
		e.invalidator.InvalidateLot(ctx, lotID)
	}
}

func requireAdmin(actor Actor) error {
	if !actor.IsAdmin {
		return ErrForbidden
	}
	return nil
}
