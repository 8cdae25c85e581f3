package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *Store) migrate() error {
	done, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !done {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !done {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}
	return nil
}

func (s *Store) runBootstrapDDL() error {
	statements := []string{
		// Source documents.
		`CREATE TABLE IF NOT EXISTS documents (
			id             TEXT PRIMARY KEY,
			url            TEXT NOT NULL,
			url_hash       TEXT UNIQUE NOT NULL,
			content_hash   TEXT,
			raw_html       TEXT,
			extracted_text TEXT,
			http_status    INTEGER,
			fetch_error    TEXT,
			status         TEXT NOT NULL CHECK(status IN ('pending','processing','completed','failed')),
			fetched_at     DATETIME NOT NULL,
			updated_at     DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,

		// Extracted facts. Facts cascade with their document.
		`CREATE TABLE IF NOT EXISTS facts (
			id                 TEXT PRIMARY KEY,
			document_id        TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			fact_type          TEXT NOT NULL,
			subject_name       TEXT NOT NULL,
			subject_role       TEXT NOT NULL,
			value              TEXT NOT NULL,
			related_name       TEXT,
			relationship_type  TEXT,
			context            TEXT,
			is_inferred        INTEGER NOT NULL DEFAULT 0,
			inference_basis    TEXT,
			raw_confidence     REAL,
			uncertainty_flags  TEXT,
			confidence_score   REAL NOT NULL DEFAULT 0,
			resolution_status  TEXT NOT NULL CHECK(resolution_status IN ('unresolved','resolved','conflicting','rejected')),
			status_note        TEXT,
			cluster_id         TEXT,
			external_record_id TEXT,
			created_at         DATETIME NOT NULL,
			updated_at         DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_document ON facts(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_status ON facts(resolution_status, confidence_score)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_cluster ON facts(cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(subject_name)`,

		// Person clusters. Name lists are stored as JSON text arrays.
		`CREATE TABLE IF NOT EXISTS clusters (
			id                 TEXT PRIMARY KEY,
			canonical_name     TEXT NOT NULL,
			name_variants      TEXT NOT NULL DEFAULT '[]',
			nicknames          TEXT NOT NULL DEFAULT '[]',
			maiden_names       TEXT NOT NULL DEFAULT '[]',
			external_record_id TEXT,
			confidence_score   REAL NOT NULL DEFAULT 0,
			source_count       INTEGER NOT NULL DEFAULT 1,
			fact_count         INTEGER NOT NULL DEFAULT 0,
			cluster_status     TEXT NOT NULL CHECK(cluster_status IN ('unverified','verified','conflicting','resolved')),
			created_at         DATETIME NOT NULL,
			updated_at         DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_status ON clusters(cluster_status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_clusters_external
		 ON clusters(external_record_id) WHERE external_record_id IS NOT NULL AND external_record_id != ''`,

		// Resolution decisions.
		`CREATE TABLE IF NOT EXISTS decisions (
			id              TEXT PRIMARY KEY,
			fact_id         TEXT NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
			cluster_id      TEXT,
			action          TEXT NOT NULL,
			category        TEXT NOT NULL,
			is_conflict     INTEGER NOT NULL DEFAULT 0,
			severity        TEXT,
			external_value  TEXT,
			extracted_value TEXT NOT NULL,
			resolution      TEXT,
			override_value  TEXT,
			approval_status TEXT NOT NULL CHECK(approval_status IN ('pending','approved','rejected','committed')),
			approved_by     TEXT,
			justification   TEXT,
			reason          TEXT,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_fact ON decisions(fact_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_approval ON decisions(approval_status)`,

		// Append-only audit log. No UPDATE or DELETE is ever issued.
		`CREATE TABLE IF NOT EXISTS audit_log (
			id                 TEXT PRIMARY KEY,
			action_type        TEXT NOT NULL,
			entity_type        TEXT NOT NULL,
			entity_id          TEXT NOT NULL,
			external_record_id TEXT,
			user_action        INTEGER NOT NULL DEFAULT 0,
			actor              TEXT,
			details            TEXT NOT NULL DEFAULT '{}',
			timestamp          DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(timestamp)`,

		// Extraction responses keyed by content hash, with token usage and
		// cost for the stats surface. Rows have no TTL.
		`CREATE TABLE IF NOT EXISTS extractions (
			cache_key         TEXT PRIMARY KEY,
			model             TEXT NOT NULL,
			prompt_version    TEXT NOT NULL,
			response          TEXT NOT NULL,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd          REAL NOT NULL DEFAULT 0,
			hit_count         INTEGER NOT NULL DEFAULT 0,
			created_at        DATETIME NOT NULL
		)`,

		// Runtime-tunable settings.
		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// Metadata table.
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}
	return tx.Commit()
}

func (s *Store) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *Store) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *Store) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range defaults {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
