package ssot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient is a Client backed by the record store's JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPClient creates a record-store client. Each call carries its own
// seconds-scale timeout.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Search queries the store for candidate person records.
func (c *HTTPClient) Search(ctx context.Context, name string, dates *DateRange, location string) ([]Record, error) {
	q := url.Values{}
	q.Set("name", name)
	if dates != nil {
		if dates.From != "" {
			q.Set("from", dates.From)
		}
		if dates.To != "" {
			q.Set("to", dates.To)
		}
	}
	if location != "" {
		q.Set("location", location)
	}

	var records []Record
	if err := c.do(ctx, http.MethodGet, "/api/people/search?"+q.Encode(), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetRecord fetches one person record with attributes and relationships.
func (c *HTTPClient) GetRecord(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := c.do(ctx, http.MethodGet, "/api/people/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreatePerson creates a new person record and returns its id.
func (c *HTTPClient) CreatePerson(ctx context.Context, attrs PersonAttributes) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/people", attrs, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create person: store returned no id")
	}
	return resp.ID, nil
}

// AddAttribute adds a single attribute to an existing record.
func (c *HTTPClient) AddAttribute(ctx context.Context, id string, attr string, value string) error {
	payload := map[string]string{"attribute": attr, "value": value}
	return c.do(ctx, http.MethodPost, "/api/people/"+url.PathEscape(id)+"/attributes", payload, nil)
}

// AddCitation attaches a source citation to a record and returns the
// citation id.
func (c *HTTPClient) AddCitation(ctx context.Context, id string, cit Citation) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/people/"+url.PathEscape(id)+"/citations", cit, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// AddEvent attaches a dated event to a record.
func (c *HTTPClient) AddEvent(ctx context.Context, id string, e Event) error {
	return c.do(ctx, http.MethodPost, "/api/people/"+url.PathEscape(id)+"/events", e, nil)
}

// CreateRelationship records an edge between two persons.
func (c *HTTPClient) CreateRelationship(ctx context.Context, id1, id2, relType string) error {
	payload := RelationshipEdge{Person1: id1, Person2: id2, Type: relType}
	return c.do(ctx, http.MethodPost, "/api/relationships", payload, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Op: method + " " + path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &UnavailableError{Op: method + " " + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %s: %s", method, path, strconv.Itoa(resp.StatusCode), string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
