package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"kinforge/internal/model"
)

// SaveCluster upserts a person cluster. Name lists are stored as JSON text
// arrays.
func (s *Store) SaveCluster(ctx context.Context, c *model.PersonCluster) error {
	variants, err := json.Marshal(c.NameVariants)
	if err != nil {
		return fmt.Errorf("encoding name variants: %w", err)
	}
	nicknames, err := json.Marshal(c.Nicknames)
	if err != nil {
		return fmt.Errorf("encoding nicknames: %w", err)
	}
	maiden, err := json.Marshal(c.MaidenNames)
	if err != nil {
		return fmt.Errorf("encoding maiden names: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clusters (id, canonical_name, name_variants, nicknames, maiden_names,
			external_record_id, confidence_score, source_count, fact_count, cluster_status,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			name_variants = excluded.name_variants,
			nicknames = excluded.nicknames,
			maiden_names = excluded.maiden_names,
			external_record_id = excluded.external_record_id,
			confidence_score = excluded.confidence_score,
			source_count = excluded.source_count,
			fact_count = excluded.fact_count,
			cluster_status = excluded.cluster_status,
			updated_at = excluded.updated_at`,
		c.ID, c.CanonicalName, string(variants), string(nicknames), string(maiden),
		c.ExternalRecordID, c.Confidence, c.SourceCount, c.FactCount, string(c.Status),
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving cluster: %w", err)
	}
	return nil
}

// GetCluster loads a cluster by id.
func (s *Store) GetCluster(ctx context.Context, id string) (*model.PersonCluster, error) {
	row := s.db.QueryRowContext(ctx, clusterColumns+" FROM clusters WHERE id = ?", id)
	return scanCluster(row)
}

// GetClusterByExternalID finds the cluster linked to an external record.
// One record maps to at most one cluster, enforced by a unique index.
func (s *Store) GetClusterByExternalID(ctx context.Context, externalID string) (*model.PersonCluster, error) {
	row := s.db.QueryRowContext(ctx, clusterColumns+" FROM clusters WHERE external_record_id = ?", externalID)
	return scanCluster(row)
}

// ListClusters returns clusters filtered by status, most recent first. An
// empty status returns everything.
func (s *Store) ListClusters(ctx context.Context, status model.ClusterStatus, limit int) ([]*model.PersonCluster, error) {
	if limit <= 0 {
		limit = 100
	}
	query := clusterColumns + " FROM clusters"
	args := []any{}
	if status != "" {
		query += " WHERE cluster_status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing clusters: %w", err)
	}
	defer rows.Close()

	var out []*model.PersonCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const clusterColumns = `SELECT id, canonical_name, name_variants, nicknames, maiden_names,
	external_record_id, confidence_score, source_count, fact_count, cluster_status,
	created_at, updated_at`

func scanCluster(row rowScanner) (*model.PersonCluster, error) {
	var c model.PersonCluster
	var variants, nicknames, maiden string
	var externalID sql.NullString
	var status string

	err := row.Scan(&c.ID, &c.CanonicalName, &variants, &nicknames, &maiden,
		&externalID, &c.Confidence, &c.SourceCount, &c.FactCount, &status,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning cluster: %w", err)
	}

	c.ExternalRecordID = externalID.String
	c.Status = model.ClusterStatus(status)
	for _, pair := range []struct {
		raw string
		dst *[]string
	}{
		{variants, &c.NameVariants},
		{nicknames, &c.Nicknames},
		{maiden, &c.MaidenNames},
	} {
		if pair.raw == "" || pair.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(pair.raw), pair.dst); err != nil {
			return nil, fmt.Errorf("decoding cluster name list: %w", err)
		}
	}
	return &c, nil
}
