package sqlStore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/akolanti/kbchat/internal/domain/commonModels"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocuments_TitleUniquenessOnlyWhileActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := commonModels.Document{Id: "d1", Title: "Policy", OwnerId: "u1", Active: true}
	if err := s.InsertDocument(ctx, doc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	exists, err := s.TitleExists(ctx, "u1", "Policy")
	if err != nil || !exists {
		t.Fatalf("expected title to exist, got %v err=%v", exists, err)
	}
	if exists, _ := s.TitleExists(ctx, "u2", "Policy"); exists {
		t.Error("title check must be scoped to the owner")
	}

	dup := commonModels.Document{Id: "d2", Title: "Policy", OwnerId: "u1", Active: true}
	if err := s.InsertDocument(ctx, dup); !errors.Is(err, commonModels.ErrDuplicateTitle) {
		t.Fatalf("expected ErrDuplicateTitle backstop, got %v", err)
	}

	if err := s.SetDocumentActive(ctx, "d1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if exists, _ := s.TitleExists(ctx, "u1", "Policy"); exists {
		t.Error("inactive document must not block its title")
	}
	if err := s.InsertDocument(ctx, dup); err != nil {
		t.Fatalf("insert after soft delete: %v", err)
	}
	if err := s.SetDocumentActive(ctx, "d1", true); !errors.Is(err, commonModels.ErrDuplicateTitle) {
		t.Errorf("reactivating a shadowed title should fail, got %v", err)
	}
}

func TestDocuments_Scopes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docs := []commonModels.Document{
		{Id: "own-1", Title: "a", OwnerId: "u1", Active: true},
		{Id: "own-2", Title: "b", OwnerId: "u1", Active: false},
		{Id: "own-kb", Title: "c", OwnerId: "u1", Active: true, IsKnowledgeBaseDoc: true, KnowledgeBaseId: "kb"},
		{Id: "other", Title: "d", OwnerId: "u2", Active: true},
	}
	for _, d := range docs {
		if err := s.InsertDocument(ctx, d); err != nil {
			t.Fatalf("insert %s: %v", d.Id, err)
		}
	}

	ids, err := s.ListOwnerStandaloneDocumentIDs(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "own-1" {
		t.Errorf("expected only own-1, got %v", ids)
	}
	if ids, _ := s.ListOwnerStandaloneDocumentIDs(ctx, ""); len(ids) != 0 {
		t.Errorf("anonymous caller must get no documents, got %v", ids)
	}

	active, err := s.FilterActiveDocumentIDs(ctx, []string{"other", "own-2", "missing", "own-kb"})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0] != "other" || active[1] != "own-kb" {
		t.Errorf("unexpected active filter result %v", active)
	}

	titles, err := s.DocumentTitles(ctx, []string{"own-1", "other"})
	if err != nil {
		t.Fatal(err)
	}
	if titles["own-1"] != "a" || titles["other"] != "d" {
		t.Errorf("unexpected titles %v", titles)
	}
}

func TestDocuments_CascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.CreateKnowledgeBase(ctx, commonModels.KnowledgeBase{Id: "kb", OwnerId: "u1", Name: "KB"})
	_ = s.InsertDocument(ctx, commonModels.Document{Id: "d1", Title: "x", OwnerId: "u1", Active: true})
	_ = s.AddDocumentToKnowledgeBase(ctx, "kb", "d1")

	if err := s.DeleteDocumentCascade(ctx, "d1"); err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if _, err := s.GetDocument(ctx, "d1"); !errors.Is(err, commonModels.ErrDocumentNotFound) {
		t.Errorf("expected document gone, got %v", err)
	}
	kb, err := s.GetKnowledgeBase(ctx, "kb")
	if err != nil {
		t.Fatal(err)
	}
	if len(kb.DocumentIds) != 0 {
		t.Errorf("membership should be removed, got %v", kb.DocumentIds)
	}
	if err := s.DeleteDocumentCascade(ctx, "d1"); err != nil {
		t.Errorf("deleting twice should be a no-op, got %v", err)
	}
}

func TestKnowledgeBases_MembershipSharesAndPin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetKnowledgeBase(ctx, "missing"); !errors.Is(err, commonModels.ErrKnowledgeBaseNotFound) {
		t.Fatalf("expected ErrKnowledgeBaseNotFound, got %v", err)
	}

	_ = s.CreateKnowledgeBase(ctx, commonModels.KnowledgeBase{Id: "kb1", OwnerId: "u1", Name: "One"})
	_ = s.CreateKnowledgeBase(ctx, commonModels.KnowledgeBase{Id: "kb2", OwnerId: "u1", Name: "Two"})

	for _, d := range []string{"d1", "d2", "d3"} {
		if err := s.AddDocumentToKnowledgeBase(ctx, "kb1", d); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.RemoveDocumentFromKnowledgeBase(ctx, "kb1", "d2")
	// a document belongs to one knowledge base at most
	_ = s.AddDocumentToKnowledgeBase(ctx, "kb2", "d3")

	kb1, _ := s.GetKnowledgeBase(ctx, "kb1")
	if len(kb1.DocumentIds) != 1 || kb1.DocumentIds[0] != "d1" {
		t.Errorf("kb1 membership = %v", kb1.DocumentIds)
	}
	kb2, _ := s.GetKnowledgeBase(ctx, "kb2")
	if len(kb2.DocumentIds) != 1 || kb2.DocumentIds[0] != "d3" {
		t.Errorf("kb2 membership = %v", kb2.DocumentIds)
	}

	_ = s.GrantShare(ctx, "kb1", " Friend@Example.com ")
	if ok, _ := s.HasShare(ctx, "kb1", "friend@example.com"); !ok {
		t.Error("share should match case-insensitively")
	}
	if ok, _ := s.HasShare(ctx, "kb1", ""); ok {
		t.Error("empty email must never match")
	}
	_ = s.RevokeShare(ctx, "kb1", "FRIEND@example.com")
	if ok, _ := s.HasShare(ctx, "kb1", "friend@example.com"); ok {
		t.Error("revoked share still present")
	}

	if err := s.SetPinned(ctx, "kb2", true); err != nil {
		t.Fatal(err)
	}
	list, _ := s.ListKnowledgeBases(ctx, "u1")
	if len(list) != 2 || list[0].Id != "kb2" {
		t.Errorf("pinned knowledge base should sort first, got %+v", list)
	}
}

func TestKnowledgeBases_MembershipMovesDocumentOutOfPlainScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.CreateKnowledgeBase(ctx, commonModels.KnowledgeBase{Id: "kb1", OwnerId: "u1", Name: "One"})
	_ = s.CreateKnowledgeBase(ctx, commonModels.KnowledgeBase{Id: "kb2", OwnerId: "u1", Name: "Two"})
	if err := s.InsertDocument(ctx, commonModels.Document{Id: "d1", Title: "Policy", OwnerId: "u1", Active: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.AddDocumentToKnowledgeBase(ctx, "kb1", "d1"); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.GetDocument(ctx, "d1")
	if doc.KnowledgeBaseId != "kb1" || !doc.IsKnowledgeBaseDoc {
		t.Errorf("row not marked as knowledge-base document: %+v", doc)
	}
	if ids, _ := s.ListOwnerStandaloneDocumentIDs(ctx, "u1"); len(ids) != 0 {
		t.Errorf("knowledge-base document leaked into plain scope: %v", ids)
	}

	// removing from a knowledge base it does not belong to is a no-op
	if err := s.RemoveDocumentFromKnowledgeBase(ctx, "kb2", "d1"); err != nil {
		t.Fatal(err)
	}
	if doc, _ := s.GetDocument(ctx, "d1"); doc.KnowledgeBaseId != "kb1" {
		t.Errorf("foreign removal changed the row: %+v", doc)
	}

	if err := s.RemoveDocumentFromKnowledgeBase(ctx, "kb1", "d1"); err != nil {
		t.Fatal(err)
	}
	doc, _ = s.GetDocument(ctx, "d1")
	if doc.KnowledgeBaseId != "" || doc.IsKnowledgeBaseDoc {
		t.Errorf("row still marked after removal: %+v", doc)
	}
	if ids, _ := s.ListOwnerStandaloneDocumentIDs(ctx, "u1"); len(ids) != 1 || ids[0] != "d1" {
		t.Errorf("removed document should be back in plain scope, got %v", ids)
	}
}

func TestCredits_FloorAtZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if b, _ := s.Balance(ctx, "nobody"); b != 0 {
		t.Errorf("missing row should read as 0, got %d", b)
	}
	if b, err := s.Debit(ctx, "nobody", 3); err != nil || b != 0 {
		t.Errorf("debit without row = %d, %v", b, err)
	}

	if b, _ := s.Grant(ctx, "u1", 5); b != 5 {
		t.Fatalf("grant = %d", b)
	}
	if b, _ := s.Grant(ctx, "u1", 2); b != 7 {
		t.Fatalf("second grant = %d", b)
	}

	tests := []struct {
		debit int
		want  int
	}{
		{debit: 3, want: 4},
		{debit: 10, want: 0},
		{debit: 1, want: 0},
	}
	for _, tt := range tests {
		got, err := s.Debit(ctx, "u1", tt.debit)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Debit(%d) = %d, want %d", tt.debit, got, tt.want)
		}
	}
}

func TestCredits_ConcurrentDebitsNeverNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Grant(ctx, "u1", 10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Debit(ctx, "u1", 1)
		}()
	}
	wg.Wait()

	if b, _ := s.Balance(ctx, "u1"); b != 0 {
		t.Errorf("expected balance floored at 0, got %d", b)
	}
}
