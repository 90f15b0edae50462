// Package ledger maintains an append-only log of balance deltas and the
// current-balance projection derived from it. Every write is checked
// against the non-negativity invariant before it is committed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/market-engine/internal/model"
)

// InvariantError indicates a write would drive a balance negative. This
// is a bug or a concurrent writer, never a normal business rejection —
// callers should not retry blindly.
type InvariantError struct {
	UserID string
	Field  string
	Result decimal.Decimal
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger: invariant violated for user %s: %s would become %s", e.UserID, e.Field, e.Result.String())
}

// ErrBalanceNotFound is returned when apply targets a user with no
// balance row. Balance rows are created once at registration; apply
// never upserts one, to stay safe against silent mis-attribution.
var ErrBalanceNotFound = errors.New("ledger: balance not found")

// Delta describes one balance mutation to apply.
type Delta struct {
	UserID         string
	DeltaAvailable decimal.Decimal
	DeltaReserved  decimal.Decimal
	Reason         model.LedgerReason
	Ref            model.LedgerRef
}

// Store is the persistence surface the ledger needs. Implementations
// live in internal/store.
type Store interface {
	GetBalance(ctx context.Context, userID string) (model.Balance, error)
	PutBalance(ctx context.Context, bal model.Balance) error
	InsertLedgerEntry(ctx context.Context, entry model.LedgerEntry) error
}

// IDGenerator produces unique identifiers for new ledger entries.
type IDGenerator func() string

// Ledger applies deltas against a Store under the non-negativity
// invariant.
type Ledger struct {
	store Store
	newID IDGenerator
}

// New creates a Ledger backed by store, using newID to stamp new ledger
// entries.
func New(store Store, newID IDGenerator) *Ledger {
	return &Ledger{store: store, newID: newID}
}

// GetBalance returns the current projected balance for userID.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (model.Balance, error) {
	return l.store.GetBalance(ctx, userID)
}

// Apply applies one delta atomically: reads the current balance,
// computes the new balance, rejects on a would-be-negative field, then
// writes the entry and the new balance together.
func (l *Ledger) Apply(ctx context.Context, d Delta) error {
	return l.ApplyBatch(ctx, []Delta{d})
}

// ApplyBatch applies every delta in order. Implementations backed by
// transactional storage wrap the whole batch in one transaction so
// partial success is impossible; the in-memory store emulates this
// with a single critical section.
func (l *Ledger) ApplyBatch(ctx context.Context, deltas []Delta) error {
	for _, d := range deltas {
		bal, err := l.store.GetBalance(ctx, d.UserID)
		if err != nil {
			return fmt.Errorf("ledger: apply: %w", err)
		}

		newAvailable := bal.Available.Add(d.DeltaAvailable)
		newReserved := bal.Reserved.Add(d.DeltaReserved)

		if newAvailable.IsNegative() {
			return &InvariantError{UserID: d.UserID, Field: "available", Result: newAvailable}
		}
		if newReserved.IsNegative() {
			return &InvariantError{UserID: d.UserID, Field: "reserved", Result: newReserved}
		}

		entry := model.LedgerEntry{
			ID:             l.newID(),
			UserID:         d.UserID,
			DeltaAvailable: d.DeltaAvailable,
			DeltaReserved:  d.DeltaReserved,
			Reason:         d.Reason,
			Ref:            d.Ref,
			CreatedAt:      time.Now().UTC(),
		}
		if err := l.store.InsertLedgerEntry(ctx, entry); err != nil {
			return fmt.Errorf("ledger: insert entry: %w", err)
		}

		newBal := model.Balance{UserID: d.UserID, Available: newAvailable, Reserved: newReserved}
		if err := l.store.PutBalance(ctx, newBal); err != nil {
			return fmt.Errorf("ledger: put balance: %w", err)
		}
	}
	return nil
}
