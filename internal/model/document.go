package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a source document through processing.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is one fetched source document. Facts cascade-delete with their
// document and are never cleaned up automatically while unresolved.
type Document struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	URLHash       string         `json:"url_hash"`
	ContentHash   string         `json:"content_hash,omitempty"`
	RawHTML       string         `json:"-"`
	ExtractedText string         `json:"extracted_text,omitempty"`
	HTTPStatus    int            `json:"http_status,omitempty"`
	FetchError    string         `json:"fetch_error,omitempty"`
	Status        DocumentStatus `json:"status"`
	FetchedAt     time.Time      `json:"fetched_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewDocument creates a pending document for a URL.
func NewDocument(url, urlHash string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        uuid.NewString(),
		URL:       url,
		URLHash:   urlHash,
		Status:    DocumentPending,
		FetchedAt: now,
		UpdatedAt: now,
	}
}
