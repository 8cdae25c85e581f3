package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"
)

// Cache defines the interface for caching. Writes are upserts keyed by
// content hash; last-writer-wins is fine because values are idempotent
// per key.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// DocumentKey generates the document-cache key from a normalized URL hash.
func DocumentKey(rawURL string) string {
	return "kinforge:doc:v1:" + HashContent(NormalizeURL(rawURL))
}

// ExtractionKey generates the extraction-cache key. Changing the prompt
// version, the model, or the content re-derives facts.
func ExtractionKey(promptVersion, model, content string) string {
	return "kinforge:ext:v1:" + HashContent(promptVersion+"\n"+model+"\n"+content)
}

// HashContent returns the hex SHA-256 of a string, used for change
// detection and cache keying.
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// NormalizeURL lowercases scheme and host and strips fragments and trailing
// slashes so trivially different spellings share one cache entry.
func NormalizeURL(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed.String()
}
