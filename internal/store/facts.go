package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"kinforge/internal/model"
)

// FactFilter narrows ListFacts.
type FactFilter struct {
	DocumentID string
	ClusterID  string
	Status     model.ResolutionStatus
	Type       model.FactType
	Limit      int
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveFact upserts one fact.
func (s *Store) SaveFact(ctx context.Context, f *model.Fact) error {
	return saveFact(ctx, s.db, f)
}

// SaveFacts upserts a batch inside one transaction.
func (s *Store) SaveFacts(ctx context.Context, facts []*model.Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fact batch: %w", err)
	}
	defer tx.Rollback()

	for _, f := range facts {
		if err := saveFact(ctx, tx, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func saveFact(ctx context.Context, e execer, f *model.Fact) error {
	flags, err := json.Marshal(f.UncertaintyFlags)
	if err != nil {
		return fmt.Errorf("encoding uncertainty flags: %w", err)
	}
	var raw any
	if f.RawConfidence != nil {
		raw = *f.RawConfidence
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO facts (id, document_id, fact_type, subject_name, subject_role, value,
			related_name, relationship_type, context, is_inferred, inference_basis,
			raw_confidence, uncertainty_flags, confidence_score, resolution_status,
			status_note, cluster_id, external_record_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			value = excluded.value,
			confidence_score = excluded.confidence_score,
			resolution_status = excluded.resolution_status,
			status_note = excluded.status_note,
			cluster_id = excluded.cluster_id,
			external_record_id = excluded.external_record_id,
			updated_at = excluded.updated_at`,
		f.ID, f.DocumentID, string(f.Type), f.SubjectName, string(f.SubjectRole), f.Value,
		f.RelatedName, f.RelationshipType, f.Context, f.Inferred, f.InferenceBasis,
		raw, string(flags), f.Confidence, string(f.Status),
		f.StatusNote, f.ClusterID, f.ExternalRecordID, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving fact %s: %w", f.ID, err)
	}
	return nil
}

// GetFact loads one fact by id.
func (s *Store) GetFact(ctx context.Context, id string) (*model.Fact, error) {
	row := s.db.QueryRowContext(ctx, factColumns+" FROM facts WHERE id = ?", id)
	return scanFact(row)
}

// ListFacts returns facts matching the filter, newest first.
func (s *Store) ListFacts(ctx context.Context, filter FactFilter) ([]*model.Fact, error) {
	b := sq.Select(factColumnNames...).From("facts").OrderBy("created_at DESC")
	if filter.DocumentID != "" {
		b = b.Where(sq.Eq{"document_id": filter.DocumentID})
	}
	if filter.ClusterID != "" {
		b = b.Where(sq.Eq{"cluster_id": filter.ClusterID})
	}
	if filter.Status != "" {
		b = b.Where(sq.Eq{"resolution_status": string(filter.Status)})
	}
	if filter.Type != "" {
		b = b.Where(sq.Eq{"fact_type": string(filter.Type)})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	return s.queryFacts(ctx, b)
}

// FactsNeedingReview returns unresolved and conflicting facts in ascending
// confidence order, so reviewers see the least certain claims first.
func (s *Store) FactsNeedingReview(ctx context.Context, limit int) ([]*model.Fact, error) {
	if limit <= 0 {
		limit = 100
	}
	b := sq.Select(factColumnNames...).From("facts").
		Where(sq.Eq{"resolution_status": []string{
			string(model.StatusUnresolved), string(model.StatusConflicting),
		}}).
		OrderBy("confidence_score ASC").
		Limit(uint64(limit))
	return s.queryFacts(ctx, b)
}

// UpdateFactStatus applies a status transition with the state machine's
// rules enforced.
func (s *Store) UpdateFactStatus(ctx context.Context, id string, to model.ResolutionStatus, note string, userAction bool) error {
	f, err := s.GetFact(ctx, id)
	if err != nil {
		return err
	}
	if !model.CanTransition(f.Status, to, userAction) {
		return fmt.Errorf("fact %s: illegal transition %s -> %s", id, f.Status, to)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE facts SET resolution_status = ?, status_note = ?, updated_at = ? WHERE id = ?`,
		string(to), note, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating fact status: %w", err)
	}
	return nil
}

// BulkUpdateFactStatus applies the same legal transition to many facts in
// one transaction. Facts whose current state forbids the transition fail
// the whole batch.
func (s *Store) BulkUpdateFactStatus(ctx context.Context, ids []string, to model.ResolutionStatus, note string, userAction bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning bulk update: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range ids {
		var current string
		if err := tx.QueryRowContext(ctx, "SELECT resolution_status FROM facts WHERE id = ?", id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("fact %s: %w", id, ErrNotFound)
			}
			return err
		}
		if !model.CanTransition(model.ResolutionStatus(current), to, userAction) {
			return fmt.Errorf("fact %s: illegal transition %s -> %s", id, current, to)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE facts SET resolution_status = ?, status_note = ?, updated_at = ? WHERE id = ?`,
			string(to), note, now, id); err != nil {
			return fmt.Errorf("updating fact %s: %w", id, err)
		}
	}
	return tx.Commit()
}

var factColumnNames = []string{
	"id", "document_id", "fact_type", "subject_name", "subject_role", "value",
	"related_name", "relationship_type", "context", "is_inferred", "inference_basis",
	"raw_confidence", "uncertainty_flags", "confidence_score", "resolution_status",
	"status_note", "cluster_id", "external_record_id", "created_at", "updated_at",
}

const factColumns = `SELECT id, document_id, fact_type, subject_name, subject_role, value,
	related_name, relationship_type, context, is_inferred, inference_basis,
	raw_confidence, uncertainty_flags, confidence_score, resolution_status,
	status_note, cluster_id, external_record_id, created_at, updated_at`

func (s *Store) queryFacts(ctx context.Context, b sq.SelectBuilder) ([]*model.Fact, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building fact query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer rows.Close()

	var out []*model.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFact(row rowScanner) (*model.Fact, error) {
	var f model.Fact
	var factType, role, status string
	var relatedName, relType, factContext, basis, note, clusterID, externalID sql.NullString
	var raw sql.NullFloat64
	var flags sql.NullString

	err := row.Scan(&f.ID, &f.DocumentID, &factType, &f.SubjectName, &role, &f.Value,
		&relatedName, &relType, &factContext, &f.Inferred, &basis,
		&raw, &flags, &f.Confidence, &status,
		&note, &clusterID, &externalID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning fact: %w", err)
	}

	f.Type = model.FactType(factType)
	f.SubjectRole = model.SubjectRole(role)
	f.Status = model.ResolutionStatus(status)
	f.RelatedName = relatedName.String
	f.RelationshipType = relType.String
	f.Context = factContext.String
	f.InferenceBasis = basis.String
	f.StatusNote = note.String
	f.ClusterID = clusterID.String
	f.ExternalRecordID = externalID.String
	if raw.Valid {
		v := raw.Float64
		f.RawConfidence = &v
	}
	if flags.Valid && flags.String != "" && flags.String != "null" {
		if err := json.Unmarshal([]byte(flags.String), &f.UncertaintyFlags); err != nil {
			return nil, fmt.Errorf("decoding uncertainty flags: %w", err)
		}
	}
	return &f, nil
}
