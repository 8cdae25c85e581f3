package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"kinforge/internal/pipeline"
)

// Processor is the per-document entry point the pool drives. The pipeline
// satisfies it.
type Processor interface {
	ProcessURL(ctx context.Context, url string) (*pipeline.RunResult, error)
}

// Outcome pairs one URL with its run result or error. A failed document
// never aborts the rest of the batch.
type Outcome struct {
	URL    string
	Result *pipeline.RunResult
	Err    error
}

// Pool fans a batch of URLs out over a bounded number of workers, pacing
// each request through the per-host limiter.
type Pool struct {
	proc    Processor
	limiter *HostLimiter
	workers int
}

// NewPool creates a pool. limiter may be nil to disable pacing.
func NewPool(proc Processor, workers int, limiter *HostLimiter) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{proc: proc, limiter: limiter, workers: workers}
}

// ProcessURLs runs every URL and returns outcomes in input order. It stops
// early only when ctx is cancelled.
func (p *Pool) ProcessURLs(ctx context.Context, urls []string) []Outcome {
	outcomes := make([]Outcome, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			outcomes[i] = p.processOne(ctx, u)
			// Only cancellation propagates; per-document failures
			// stay in their outcome.
			return ctx.Err()
		})
	}
	_ = g.Wait()

	return outcomes
}

func (p *Pool) processOne(ctx context.Context, url string) Outcome {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return Outcome{URL: url, Err: err}
		}
	}
	result, err := p.proc.ProcessURL(ctx, url)
	return Outcome{URL: url, Result: result, Err: err}
}

// ProcessFile reads URLs from a file (one per line) and processes them.
func (p *Pool) ProcessFile(ctx context.Context, path string) ([]Outcome, error) {
	urls, err := ReadURLFile(path)
	if err != nil {
		return nil, err
	}
	return p.ProcessURLs(ctx, urls), nil
}

// ReadURLFile reads one URL per line, skipping blanks, comments, and
// duplicates.
func ReadURLFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open URL file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read URL file: %w", err)
	}
	return urls, nil
}
