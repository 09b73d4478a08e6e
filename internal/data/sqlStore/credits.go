package sqlStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Balance returns 0 for a tenant without a credit row.
func (s *Store) Balance(ctx context.Context, ownerId string) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM credits WHERE owner_id = ?`, ownerId).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

// Debit subtracts n in a single statement, flooring at zero. Concurrent debits never take the
// balance negative but are not serialized against concurrent reads.
func (s *Store) Debit(ctx context.Context, ownerId string, n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("debit: negative amount %d", n)
	}
	var balance int
	err := s.db.QueryRowContext(ctx,
		`UPDATE credits SET balance = MAX(0, balance - ?) WHERE owner_id = ? RETURNING balance`,
		n, ownerId).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("credit debit: %w", err)
	}
	return balance, nil
}

// Grant adds n credits, creating the tenant's row on first use.
func (s *Store) Grant(ctx context.Context, ownerId string, n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("grant: negative amount %d", n)
	}
	var balance int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO credits (owner_id, balance) VALUES (?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET balance = balance + excluded.balance
		 RETURNING balance`, ownerId, n).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("credit grant: %w", err)
	}
	return balance, nil
}
