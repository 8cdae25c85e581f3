package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsGate answers whether a URL may be fetched under the site's
// robots.txt. Verdicts are cached per host for the life of the process; an
// unreachable robots.txt allows the fetch.
type robotsGate struct {
	mu         sync.RWMutex
	byHost     map[string]*robotstxt.RobotsData
	httpClient *http.Client
	agent      string
}

func newRobotsGate(userAgent string, timeout time.Duration) *robotsGate {
	return &robotsGate{
		byHost:     make(map[string]*robotstxt.RobotsData),
		httpClient: &http.Client{Timeout: timeout},
		agent:      userAgent,
	}
}

// Allowed reports whether rawURL may be fetched and any crawl delay the site
// requests for our agent.
func (g *robotsGate) Allowed(ctx context.Context, rawURL string) (bool, time.Duration, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, 0, fmt.Errorf("parse URL: %w", err)
	}

	data, err := g.dataFor(ctx, parsed)
	if err != nil {
		return true, 0, nil
	}

	allowed := data.TestAgent(parsed.Path, g.agent)
	var delay time.Duration
	if group := data.FindGroup(g.agent); group != nil {
		delay = group.CrawlDelay
	}
	return allowed, delay, nil
}

func (g *robotsGate) dataFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	g.mu.RLock()
	data, ok := g.byHost[u.Host]
	g.mu.RUnlock()
	if ok {
		return data, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", g.agent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err = robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	g.mu.Lock()
	g.byHost[u.Host] = data
	g.mu.Unlock()
	return data, nil
}
