package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kinforge/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SaveDocument upserts a document keyed by its URL hash.
func (s *Store) SaveDocument(ctx context.Context, d *model.Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, url, url_hash, content_hash, raw_html, extracted_text,
			http_status, fetch_error, status, fetched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			content_hash = excluded.content_hash,
			raw_html = excluded.raw_html,
			extracted_text = excluded.extracted_text,
			http_status = excluded.http_status,
			fetch_error = excluded.fetch_error,
			status = excluded.status,
			fetched_at = excluded.fetched_at,
			updated_at = excluded.updated_at`,
		d.ID, d.URL, d.URLHash, d.ContentHash, d.RawHTML, d.ExtractedText,
		d.HTTPStatus, d.FetchError, string(d.Status), d.FetchedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocumentByURLHash loads a document by its URL hash.
func (s *Store) GetDocumentByURLHash(ctx context.Context, urlHash string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, url_hash, content_hash, raw_html, extracted_text,
			http_status, fetch_error, status, fetched_at, updated_at
		FROM documents WHERE url_hash = ?`, urlHash)
	return scanDocument(row)
}

// GetDocument loads a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, url_hash, content_hash, raw_html, extracted_text,
			http_status, fetch_error, status, fetched_at, updated_at
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// ListDocuments returns documents filtered by status, newest first. An empty
// status returns everything.
func (s *Store) ListDocuments(ctx context.Context, status model.DocumentStatus, limit int) ([]*model.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, url, url_hash, content_hash, raw_html, extracted_text,
			http_status, fetch_error, status, fetched_at, updated_at
		FROM documents`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY fetched_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus moves a document through its processing states.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, fetchError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, fetch_error = ?, updated_at = ? WHERE id = ?`,
		string(status), fetchError, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var d model.Document
	var contentHash, rawHTML, extractedText, fetchError sql.NullString
	var httpStatus sql.NullInt64
	var status string

	err := row.Scan(&d.ID, &d.URL, &d.URLHash, &contentHash, &rawHTML, &extractedText,
		&httpStatus, &fetchError, &status, &d.FetchedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	d.ContentHash = contentHash.String
	d.RawHTML = rawHTML.String
	d.ExtractedText = extractedText.String
	d.HTTPStatus = int(httpStatus.Int64)
	d.FetchError = fetchError.String
	d.Status = model.DocumentStatus(status)
	return &d, nil
}
