package credit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/akolanti/kbchat/internal/data/sqlStore"
)

func newMeter(t *testing.T) *Meter {
	t.Helper()
	store, err := sqlStore.NewStore(context.Background(), filepath.Join(t.TempDir(), "credit.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewMeter(store)
}

func TestMeter_DebitFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	m := newMeter(t)

	if _, err := m.Grant(ctx, "alice", 3); err != nil {
		t.Fatalf("grant: %v", err)
	}

	steps := []struct {
		debit int
		want  int
	}{
		{debit: 2, want: 1},
		{debit: 0, want: 1},
		{debit: 5, want: 0},
		{debit: 1, want: 0},
	}
	for _, s := range steps {
		got, err := m.Debit(ctx, "alice", s.debit)
		if err != nil {
			t.Fatalf("debit %d: %v", s.debit, err)
		}
		if got != s.want {
			t.Errorf("debit %d: balance %d, want %d", s.debit, got, s.want)
		}
	}

	ok, err := m.HasCredit(ctx, "alice")
	if err != nil || ok {
		t.Errorf("expected no credit left, got %v (%v)", ok, err)
	}
}

func TestMeter_UnknownAndAnonymousOwners(t *testing.T) {
	ctx := context.Background()
	m := newMeter(t)

	if b, err := m.Balance(ctx, "nobody"); err != nil || b != 0 {
		t.Errorf("unknown owner balance = %d (%v), want 0", b, err)
	}
	if b, err := m.Debit(ctx, "", 3); err != nil || b != 0 {
		t.Errorf("anonymous debit = %d (%v), want 0", b, err)
	}
	if _, err := m.Grant(ctx, "alice", 0); err == nil {
		t.Error("zero grant should fail")
	}
}
