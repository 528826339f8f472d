/*
ledger.go - Arrival operations

PURPOSE:
  The Ledger is the only writer of arrivals. Every mutation runs as one
  transaction: field validation, number uniqueness, catalog reference
  checks, the non-negative balance check, then the write. Any rejection
  rolls the whole transaction back, so a rejected mutation leaves the
  store exactly as it was.

OPERATIONS:
  CreateArrival: {} -> new line set
  UpdateArrival: old -> new line set (full replacement), header overwrite
  DeleteArrival: old -> {} and the arrival is removed
  GetArrival, ListArrivals, GetBalance: reads, no transaction

CONFLICTS:
  If the store reports a ConcurrencyConflictError, the whole callback is
  run once more from scratch (re-read, re-check, re-write). A second
  conflict is returned to the caller.

EXAMPLE:
  ledger := warehouse.NewLedger(store, warehouse.WithLogger(log))
  id, err := ledger.CreateArrival(ctx, warehouse.ArrivalInput{
      Number: "A-1",
      Date:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
      Lines:  []warehouse.LineInput{{ResourceID: bolt, UnitID: pcs, Quantity: 10}},
  })

SEE ALSO:
  - consistency.go: The balance check
  - guard.go: Validation, uniqueness, catalog references
*/
package warehouse

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Operation names used in logs and metrics.
const (
	OpCreateArrival = "create_arrival"
	OpUpdateArrival = "update_arrival"
	OpDeleteArrival = "delete_arrival"
	OpCreateEntry   = "create_entry"
	OpUpdateEntry   = "update_entry"
	OpArchiveEntry  = "archive_entry"
)

// Observer is notified about every mutation outcome. metrics.Recorder
// implements it.
type Observer interface {
	ObserveMutation(op string, err error)
	ObserveRetry(op string)
}

type nopObserver struct{}

func (nopObserver) ObserveMutation(string, error) {}
func (nopObserver) ObserveRetry(string)           {}

// Option configures Ledger and Catalog.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	observer Observer
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver sets the mutation observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger runs arrival operations against a transactional store.
type Ledger struct {
	store    TxStore
	logger   *zap.Logger
	observer Observer
}

// NewLedger creates a ledger over store.
func NewLedger(store TxStore, opts ...Option) *Ledger {
	o := buildOptions(opts)
	return &Ledger{store: store, logger: o.logger, observer: o.observer}
}

// CreateArrival validates and stores a new arrival and returns its id.
func (l *Ledger) CreateArrival(ctx context.Context, in ArrivalInput) (int64, error) {
	in = normalizeInput(in)
	if err := ValidateArrival(in); err != nil {
		return 0, l.finish(OpCreateArrival, err, zap.String("number", in.Number))
	}

	var id int64
	err := runTx(ctx, l.store, OpCreateArrival, l.observer, l.logger, func(s Store) error {
		if err := ensureUniqueNumber(ctx, s, in.Number, 0); err != nil {
			return err
		}
		if err := ensureUsable(ctx, s, in.Lines); err != nil {
			return err
		}
		if err := CheckTransition(ctx, s, s, LineSet{}, NewProposedLineSet(in.Lines)); err != nil {
			return err
		}

		arrival := newArrival(0, in)
		if err := s.InsertArrival(ctx, &arrival); err != nil {
			return err
		}
		id = arrival.ID
		return nil
	})
	if err != nil {
		return 0, l.finish(OpCreateArrival, err, zap.String("number", in.Number))
	}
	l.finish(OpCreateArrival, nil, zap.Int64("arrival_id", id), zap.String("number", in.Number))
	return id, nil
}

// UpdateArrival replaces the header and the whole line set of an arrival.
func (l *Ledger) UpdateArrival(ctx context.Context, id int64, in ArrivalInput) error {
	in = normalizeInput(in)
	if err := ValidateArrival(in); err != nil {
		return l.finish(OpUpdateArrival, err, zap.Int64("arrival_id", id))
	}

	err := runTx(ctx, l.store, OpUpdateArrival, l.observer, l.logger, func(s Store) error {
		current, err := s.GetArrival(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load arrival %d: %w", id, err)
		}
		if current == nil {
			return &NotFoundError{Entity: "arrival", ID: id}
		}
		if err := ensureUniqueNumber(ctx, s, in.Number, id); err != nil {
			return err
		}
		if err := ensureUsable(ctx, s, in.Lines); err != nil {
			return err
		}
		if err := CheckTransition(ctx, s, s, NewLineSet(current.Lines), NewProposedLineSet(in.Lines)); err != nil {
			return err
		}

		arrival := newArrival(id, in)
		return s.ReplaceArrival(ctx, &arrival)
	})
	return l.finish(OpUpdateArrival, err, zap.Int64("arrival_id", id), zap.String("number", in.Number))
}

// DeleteArrival removes an arrival if doing so keeps every pair non-negative.
func (l *Ledger) DeleteArrival(ctx context.Context, id int64) error {
	err := runTx(ctx, l.store, OpDeleteArrival, l.observer, l.logger, func(s Store) error {
		current, err := s.GetArrival(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load arrival %d: %w", id, err)
		}
		if current == nil {
			return &NotFoundError{Entity: "arrival", ID: id}
		}
		if err := CheckTransition(ctx, s, s, NewLineSet(current.Lines), LineSet{}); err != nil {
			return err
		}
		return s.DeleteArrival(ctx, id)
	})
	return l.finish(OpDeleteArrival, err, zap.Int64("arrival_id", id))
}

// GetArrival returns one arrival with its lines.
func (l *Ledger) GetArrival(ctx context.Context, id int64) (*Arrival, error) {
	a, err := l.store.GetArrival(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load arrival %d: %w", id, err)
	}
	if a == nil {
		return nil, &NotFoundError{Entity: "arrival", ID: id}
	}
	return a, nil
}

// ListArrivals returns arrivals matching filter.
func (l *Ledger) ListArrivals(ctx context.Context, filter ArrivalFilter) ([]Arrival, error) {
	if filter.From != nil {
		t := filter.From.UTC()
		filter.From = &t
	}
	if filter.To != nil {
		t := filter.To.UTC()
		filter.To = &t
	}
	return l.store.ListArrivals(ctx, filter)
}

// GetBalance returns the on-hand quantity per (resource, unit) pair.
// It is a reporting view and takes no locks.
func (l *Ledger) GetBalance(ctx context.Context, filter BalanceFilter) ([]BalanceEntry, error) {
	return l.store.Balance(ctx, filter)
}

func (l *Ledger) finish(op string, err error, fields ...zap.Field) error {
	return finish(l.logger, l.observer, op, err, fields...)
}

// =============================================================================
// HELPERS
// =============================================================================

func normalizeInput(in ArrivalInput) ArrivalInput {
	in.Date = in.Date.UTC()
	return in
}

func newArrival(id int64, in ArrivalInput) Arrival {
	a := Arrival{ID: id, Number: in.Number, Date: in.Date, Lines: make([]ArrivalLine, len(in.Lines))}
	for i, l := range in.Lines {
		a.Lines[i] = ArrivalLine{
			ArrivalID:  id,
			ResourceID: l.ResourceID,
			UnitID:     l.UnitID,
			Quantity:   l.Quantity,
		}
	}
	return a
}

// runTx runs fn in a transaction and retries once on a concurrency conflict.
func runTx(ctx context.Context, store TxStore, op string, obs Observer, log *zap.Logger, fn func(Store) error) error {
	err := store.WithTx(ctx, fn)
	if !IsRetryable(err) {
		return err
	}

	obs.ObserveRetry(op)
	log.Warn("concurrent modification, retrying once", zap.String("op", op), zap.Error(err))
	return store.WithTx(ctx, fn)
}

// finish logs and observes the outcome of a mutation and returns err unchanged.
func finish(log *zap.Logger, obs Observer, op string, err error, fields ...zap.Field) error {
	obs.ObserveMutation(op, err)
	fields = append(fields, zap.String("op", op))

	switch {
	case err == nil:
		log.Info("mutation applied", fields...)
	case IsClientError(err) || IsNotFound(err):
		log.Info("mutation rejected", append(fields, zap.String("code", Code(err)), zap.Error(err))...)
	case IsRetryable(err):
		log.Warn("mutation conflicted", append(fields, zap.Error(err))...)
	default:
		log.Error("mutation failed", append(fields, zap.Error(err))...)
	}
	return err
}
