package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kinforge/internal/cache"
	"kinforge/internal/model"
)

const obituaryHTML = `<html>
<head><title>Obituary</title><style>p { color: black }</style></head>
<body>
<nav>Home | Obituaries | Contact</nav>
<h1>Margaret Anne Sullivan</h1>
<p>Margaret Anne Sullivan, 82, of Springfield, passed away peacefully on
March 15, 2024.</p>
<p>She is survived by her son James Sullivan and her daughter Mary Chen.</p>
<script>trackPageView();</script>
<footer>Copyright 2024</footer>
</body>
</html>`

func httpConfig(timeout time.Duration) model.HTTPConfig {
	return model.HTTPConfig{
		Timeout:      timeout,
		UserAgent:    "kinforge-test",
		MaxBodyBytes: 1 << 20,
	}
}

func TestFetchExtractsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, obituaryHTML)
	}))
	defer server.Close()

	f := NewFetcher(httpConfig(5*time.Second), nil, 0)
	doc, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if doc.Status != model.DocumentProcessing {
		t.Errorf("status = %q, want processing", doc.Status)
	}
	if doc.HTTPStatus != http.StatusOK {
		t.Errorf("http status = %d", doc.HTTPStatus)
	}
	if doc.ContentHash == "" || doc.URLHash == "" {
		t.Error("hashes not populated")
	}
	if !strings.Contains(doc.ExtractedText, "passed away peacefully") {
		t.Errorf("obituary body missing from text:\n%s", doc.ExtractedText)
	}
	for _, junk := range []string{"trackPageView", "color: black", "Home | Obituaries"} {
		if strings.Contains(doc.ExtractedText, junk) {
			t.Errorf("chrome leaked into text: %q", junk)
		}
	}
}

func TestFetchUsesDocumentCache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = fmt.Fprint(w, obituaryHTML)
	}))
	defer server.Close()

	docs := cache.NewMemoryCache(time.Minute, time.Minute)
	f := NewFetcher(httpConfig(5*time.Second), docs, time.Minute)

	first, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
	if first.ContentHash != second.ContentHash {
		t.Error("cached fetch produced a different content hash")
	}
}

func TestFetchRespectsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, obituaryHTML)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := httpConfig(5 * time.Second)
	cfg.RespectRobots = true
	f := NewFetcher(cfg, nil, 0)

	if _, err := f.Fetch(context.Background(), server.URL+"/obituaries/sullivan"); err != nil {
		t.Fatalf("allowed path refused: %v", err)
	}

	doc, err := f.Fetch(context.Background(), server.URL+"/private/sullivan")
	if err == nil {
		t.Fatal("disallowed path fetched")
	}
	if doc.Status != model.DocumentFailed || doc.FetchError == "" {
		t.Errorf("failure not recorded on document: %+v", doc)
	}
}

func TestFetchFailureMarksDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher(httpConfig(5*time.Second), nil, 0)
	doc, err := f.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected an error for 404")
	}
	if doc.Status != model.DocumentFailed {
		t.Errorf("status = %q, want failed", doc.Status)
	}
	if doc.HTTPStatus != http.StatusNotFound {
		t.Errorf("http status = %d", doc.HTTPStatus)
	}
	if !strings.Contains(doc.FetchError, "404") {
		t.Errorf("fetch error = %q", doc.FetchError)
	}
}

func TestFetchEnforcesByteLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "<html><body><p>", strings.Repeat("x", 10_000), "</p></body></html>")
	}))
	defer server.Close()

	cfg := httpConfig(5 * time.Second)
	cfg.MaxBodyBytes = 100
	f := NewFetcher(cfg, nil, 0)

	doc, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(doc.RawHTML) > 100 {
		t.Errorf("body length %d exceeds limit", len(doc.RawHTML))
	}
}
