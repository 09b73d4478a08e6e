// Package credit meters tool usage against a per-owner balance.
// It is a best-effort counter: concurrent turns may both see a positive balance, the floor keeps it non-negative.
package credit

import (
	"context"
	"fmt"

	"github.com/akolanti/kbchat/internal/metrics"
	"github.com/akolanti/kbchat/pkg/logger_i"
)

type Ledger interface {
	Balance(ctx context.Context, ownerId string) (int, error)
	Debit(ctx context.Context, ownerId string, n int) (int, error)
	Grant(ctx context.Context, ownerId string, n int) (int, error)
}

type Meter struct {
	ledger Ledger
	logger *logger_i.Logger
}

func NewMeter(ledger Ledger) *Meter {
	return &Meter{ledger: ledger, logger: logger_i.NewLogger("credit")}
}

func (m *Meter) Balance(ctx context.Context, ownerId string) (int, error) {
	if ownerId == "" {
		return 0, nil
	}
	return m.ledger.Balance(ctx, ownerId)
}

// HasCredit reports whether the owner can pay for at least one tool call.
func (m *Meter) HasCredit(ctx context.Context, ownerId string) (bool, error) {
	balance, err := m.Balance(ctx, ownerId)
	if err != nil {
		return false, err
	}
	return balance > 0, nil
}

// Debit takes n credits and returns the new balance, never below zero.
func (m *Meter) Debit(ctx context.Context, ownerId string, n int) (int, error) {
	if n <= 0 || ownerId == "" {
		return m.Balance(ctx, ownerId)
	}
	balance, err := m.ledger.Debit(ctx, ownerId, n)
	if err != nil {
		return 0, fmt.Errorf("debit %d credits: %w", n, err)
	}
	metrics.CaptureCreditsDebited(n)
	m.logger.WithTrace(ctx).Debug("credits debited", "owner", ownerId, "amount", n, "balance", balance)
	return balance, nil
}

// Grant is the billing hook. Only the admin surface calls it.
func (m *Meter) Grant(ctx context.Context, ownerId string, n int) (int, error) {
	if ownerId == "" || n <= 0 {
		return 0, fmt.Errorf("grant needs an owner and a positive amount")
	}
	balance, err := m.ledger.Grant(ctx, ownerId, n)
	if err != nil {
		return 0, fmt.Errorf("grant %d credits: %w", n, err)
	}
	m.logger.WithTrace(ctx).Info("credits granted", "owner", ownerId, "amount", n, "balance", balance)
	return balance, nil
}
