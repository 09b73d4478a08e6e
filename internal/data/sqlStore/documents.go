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

const documentColumns = `id, title, owner_id, knowledge_base_id, active, is_kb_doc, source_url, content_type, created_at`

// TitleExists only looks at active documents.
func (s *Store) TitleExists(ctx context.Context, ownerId string, title string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM documents WHERE owner_id = ? AND title = ? AND active = 1`,
		ownerId, strings.TrimSpace(title)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("title lookup: %w", err)
	}
	return n > 0, nil
}

// InsertDocument fails with ErrDuplicateTitle when an active row already has the title.
func (s *Store) InsertDocument(ctx context.Context, doc commonModels.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.Id, doc.Title, doc.OwnerId, doc.KnowledgeBaseId, boolToInt(doc.Active), boolToInt(doc.IsKnowledgeBaseDoc),
		doc.SourceURL, string(doc.ContentType), doc.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return commonModels.ErrDuplicateTitle
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (commonModels.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, commonModels.ErrDocumentNotFound
	}
	return doc, err
}

func (s *Store) ListOwnerDocuments(ctx context.Context, ownerId string) ([]commonModels.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? ORDER BY created_at DESC`, ownerId)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []commonModels.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetDocumentActive flips the soft-delete flag. Activating fails with ErrDuplicateTitle when
// another active document already uses the title.
func (s *Store) SetDocumentActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET active = ? WHERE id = ?`, boolToInt(active), id)
	if isUniqueViolation(err) {
		return commonModels.ErrDuplicateTitle
	}
	if err != nil {
		return fmt.Errorf("set document active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonModels.ErrDocumentNotFound
	}
	return nil
}

// DeleteDocumentCascade removes the row and its knowledge-base membership. Missing rows are not an error.
func (s *Store) DeleteDocumentCascade(ctx context.Context, id string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM knowledge_base_documents WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("delete document membership: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return tx.Commit()
}

// ListOwnerStandaloneDocumentIDs is the plain-chat scope: the owner's active documents outside any knowledge base.
func (s *Store) ListOwnerStandaloneDocumentIDs(ctx context.Context, ownerId string) ([]string, error) {
	if ownerId == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE owner_id = ? AND active = 1 AND is_kb_doc = 0 ORDER BY created_at`, ownerId)
	if err != nil {
		return nil, fmt.Errorf("list standalone documents: %w", err)
	}
	return scanIds(rows)
}

// FilterActiveDocumentIDs keeps the ids that name an existing active document, preserving order.
func (s *Store) FilterActiveDocumentIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE active = 1 AND id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("filter active documents: %w", err)
	}
	active, err := scanIds(rows)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(active))
	for _, id := range active {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(active))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			out = append(out, id)
			delete(set, id)
		}
	}
	return out, nil
}

func (s *Store) DocumentTitles(ctx context.Context, ids []string) (map[string]string, error) {
	titles := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return titles, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title FROM documents WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("document titles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (commonModels.Document, error) {
	var doc commonModels.Document
	var active, isKb int
	var contentType string
	var created int64
	err := row.Scan(&doc.Id, &doc.Title, &doc.OwnerId, &doc.KnowledgeBaseId, &active, &isKb,
		&doc.SourceURL, &contentType, &created)
	if err != nil {
		return doc, err
	}
	doc.Active = active == 1
	doc.IsKnowledgeBaseDoc = isKb == 1
	doc.ContentType = commonModels.DocType(contentType)
	doc.CreatedAt = time.Unix(created, 0).UTC()
	return doc, nil
}

func scanIds(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
