package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"kinforge/internal/cache"
	"kinforge/internal/model"
)

// ErrRobotsDisallowed marks a fetch refused by the site's robots.txt.
var ErrRobotsDisallowed = errors.New("robots.txt disallows fetching this URL")

// Fetcher retrieves obituary documents over HTTP, honoring robots.txt and a
// byte ceiling, with a read-through cache for raw bodies.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	robots     *robotsGate
	docs       cache.Cache
	docTTL     time.Duration
}

// NewFetcher builds a fetcher from the HTTP configuration. docs may be nil to
// disable document caching.
func NewFetcher(cfg model.HTTPConfig, docs cache.Cache, docTTL time.Duration) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: proxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBodyBytes,
		docs:      docs,
		docTTL:    docTTL,
	}
	if cfg.RespectRobots {
		f.robots = newRobotsGate(cfg.UserAgent, cfg.Timeout)
	}
	return f
}

// Fetch returns a document for rawURL, from cache when possible. The returned
// document always carries the URL hash; on failure its FetchError and failed
// status are set and the error is also returned.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*model.Document, error) {
	doc := model.NewDocument(rawURL, cache.DocumentKey(rawURL))

	if f.docs != nil {
		if body, ok := f.docs.Get(doc.URLHash); ok {
			f.finish(doc, string(body), http.StatusOK)
			return doc, nil
		}
	}

	if f.robots != nil {
		allowed, delay, err := f.robots.Allowed(ctx, rawURL)
		if err != nil {
			return f.fail(doc, err)
		}
		if !allowed {
			return f.fail(doc, ErrRobotsDisallowed)
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return f.fail(doc, ctx.Err())
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return f.fail(doc, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return f.fail(doc, fmt.Errorf("fetch: %w", err))
	}
	defer resp.Body.Close()

	doc.HTTPStatus = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return f.fail(doc, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return f.fail(doc, fmt.Errorf("read body: %w", err))
	}

	if f.docs != nil {
		_ = f.docs.Set(doc.URLHash, body, f.docTTL)
	}
	f.finish(doc, string(body), resp.StatusCode)
	return doc, nil
}

func (f *Fetcher) finish(doc *model.Document, html string, status int) {
	doc.RawHTML = html
	doc.ExtractedText = ExtractText(html)
	doc.ContentHash = cache.HashContent(doc.ExtractedText)
	doc.HTTPStatus = status
	doc.Status = model.DocumentProcessing
	doc.FetchedAt = time.Now().UTC()
	doc.UpdatedAt = doc.FetchedAt
}

func (f *Fetcher) fail(doc *model.Document, err error) (*model.Document, error) {
	doc.Status = model.DocumentFailed
	doc.FetchError = err.Error()
	doc.UpdatedAt = time.Now().UTC()
	return doc, err
}

var spaceRun = regexp.MustCompile(`[ \t]+`)

// ExtractText strips an HTML page down to readable text. Script, style, and
// chrome elements are dropped; block boundaries become newlines.
func ExtractText(html string) string {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}

	gq.Find("script, style, noscript, nav, header, footer, iframe").Remove()

	root := gq.Find("body")
	if root.Length() == 0 {
		root = gq.Selection
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, p, li, blockquote, div").Each(func(_ int, s *goquery.Selection) {
		// Skip containers whose text is already covered by a child block.
		if s.ChildrenFiltered("p, div, li, h1, h2, h3, h4, blockquote, ul, ol").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			b.WriteString(text)
			b.WriteByte('\n')
		}
	})

	text := b.String()
	if text == "" {
		text = root.Text()
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// proxyFunc prefers configured proxies and falls back to the environment.
func proxyFunc(httpProxy, httpsProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}
	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}
