package sqlStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akolanti/kbchat/internal/domain/commonModels"
)

const knowledgeBaseColumns = `id, owner_id, name, description, is_public, allow_embedding, instruction, is_pinned, created_at`

func (s *Store) CreateKnowledgeBase(ctx context.Context, kb commonModels.KnowledgeBase) error {
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (`+knowledgeBaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		kb.Id, kb.OwnerId, kb.Name, kb.Description, boolToInt(kb.IsPublic), boolToInt(kb.AllowEmbedding),
		kb.Instruction, boolToInt(kb.IsPinned), kb.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create knowledge base: %w", err)
	}
	return nil
}

// UpdateKnowledgeBase rewrites the owner-editable settings. Membership and pinning have their own calls.
func (s *Store) UpdateKnowledgeBase(ctx context.Context, kb commonModels.KnowledgeBase) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_bases SET name = ?, description = ?, is_public = ?, allow_embedding = ?, instruction = ? WHERE id = ?`,
		kb.Name, kb.Description, boolToInt(kb.IsPublic), boolToInt(kb.AllowEmbedding), kb.Instruction, kb.Id)
	if err != nil {
		return fmt.Errorf("update knowledge base: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonModels.ErrKnowledgeBaseNotFound
	}
	return nil
}

// GetKnowledgeBase loads the row plus its ordered membership list.
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (commonModels.KnowledgeBase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+knowledgeBaseColumns+` FROM knowledge_bases WHERE id = ?`, id)
	kb, err := scanKnowledgeBase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return kb, commonModels.ErrKnowledgeBaseNotFound
	}
	if err != nil {
		return kb, fmt.Errorf("get knowledge base: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id FROM knowledge_base_documents WHERE knowledge_base_id = ? ORDER BY position`, id)
	if err != nil {
		return kb, fmt.Errorf("knowledge base documents: %w", err)
	}
	kb.DocumentIds, err = scanIds(rows)
	return kb, err
}

// ListKnowledgeBases returns the owner's knowledge bases, pinned first. Membership lists are not loaded.
func (s *Store) ListKnowledgeBases(ctx context.Context, ownerId string) ([]commonModels.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+knowledgeBaseColumns+` FROM knowledge_bases WHERE owner_id = ? ORDER BY is_pinned DESC, created_at DESC`, ownerId)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []commonModels.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

// AddDocumentToKnowledgeBase appends the document to the membership list and marks the document row
// as a knowledge-base document. A document belongs to at most one knowledge base, so adding it elsewhere moves it.
func (s *Store) AddDocumentToKnowledgeBase(ctx context.Context, knowledgeBaseId string, documentId string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add document to knowledge base: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO knowledge_base_documents (document_id, knowledge_base_id, position)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM knowledge_base_documents WHERE knowledge_base_id = ?))
		 ON CONFLICT(document_id) DO UPDATE SET knowledge_base_id = excluded.knowledge_base_id, position = excluded.position`,
		documentId, knowledgeBaseId, knowledgeBaseId)
	if err != nil {
		return fmt.Errorf("add document to knowledge base: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE documents SET knowledge_base_id = ?, is_kb_doc = 1 WHERE id = ?`, knowledgeBaseId, documentId); err != nil {
		return fmt.Errorf("mark knowledge base document: %w", err)
	}
	return tx.Commit()
}

// RemoveDocumentFromKnowledgeBase returns the document to its owner's plain-chat scope.
// Removing a document that is not a member of knowledgeBaseId changes nothing.
func (s *Store) RemoveDocumentFromKnowledgeBase(ctx context.Context, knowledgeBaseId string, documentId string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove document from knowledge base: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_base_documents WHERE knowledge_base_id = ? AND document_id = ?`, knowledgeBaseId, documentId)
	if err != nil {
		return fmt.Errorf("remove document from knowledge base: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err = tx.ExecContext(ctx,
			`UPDATE documents SET knowledge_base_id = '', is_kb_doc = 0 WHERE id = ?`, documentId); err != nil {
			return fmt.Errorf("unmark knowledge base document: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GrantShare(ctx context.Context, knowledgeBaseId string, email string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO knowledge_base_shares (knowledge_base_id, email) VALUES (?, ?)`,
		knowledgeBaseId, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("grant share: %w", err)
	}
	return nil
}

func (s *Store) RevokeShare(ctx context.Context, knowledgeBaseId string, email string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge_base_shares WHERE knowledge_base_id = ? AND email = ?`,
		knowledgeBaseId, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("revoke share: %w", err)
	}
	return nil
}

// HasShare reports whether a grant row exists for the pair. An empty email never matches.
func (s *Store) HasShare(ctx context.Context, knowledgeBaseId string, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM knowledge_base_shares WHERE knowledge_base_id = ? AND email = ?`,
		knowledgeBaseId, email).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("share lookup: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListShares(ctx context.Context, knowledgeBaseId string) ([]commonModels.KnowledgeBaseShare, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email FROM knowledge_base_shares WHERE knowledge_base_id = ? ORDER BY email`, knowledgeBaseId)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	emails, err := scanIds(rows)
	if err != nil {
		return nil, err
	}
	shares := make([]commonModels.KnowledgeBaseShare, 0, len(emails))
	for _, e := range emails {
		shares = append(shares, commonModels.KnowledgeBaseShare{KnowledgeBaseId: knowledgeBaseId, SharedWithEmail: e})
	}
	return shares, nil
}

func (s *Store) SetPinned(ctx context.Context, knowledgeBaseId string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_bases SET is_pinned = ? WHERE id = ?`, boolToInt(pinned), knowledgeBaseId)
	if err != nil {
		return fmt.Errorf("pin knowledge base: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonModels.ErrKnowledgeBaseNotFound
	}
	return nil
}

func scanKnowledgeBase(row rowScanner) (commonModels.KnowledgeBase, error) {
	var kb commonModels.KnowledgeBase
	var public, embedding, pinned int
	var created int64
	err := row.Scan(&kb.Id, &kb.OwnerId, &kb.Name, &kb.Description, &public, &embedding, &kb.Instruction, &pinned, &created)
	if err != nil {
		return kb, err
	}
	kb.IsPublic = public == 1
	kb.AllowEmbedding = embedding == 1
	kb.IsPinned = pinned == 1
	kb.CreatedAt = time.Unix(created, 0).UTC()
	return kb, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
