// Package fetch polls the Bluesky search API for each configured query
// and feeds matching posts into the ingestion queue. Queries are polled
// round-robin with a fixed inter-request interval derived from the
// global request budget, and each query walks its window with a cursor.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/daot/disasterdata/internal/bluesky"
	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/observability"
	"github.com/daot/disasterdata/internal/queue"
)

// Client is the session and search surface the fetch loop needs.
type Client interface {
	SearchPosts(ctx context.Context, params bluesky.SearchParams) (bluesky.SearchResults, error)
	RefreshSession(ctx context.Context) error
	Login(ctx context.Context, identifier, password string) error
}

// Config controls the fetch loop.
type Config struct {
	Queries []string

	// Explicit window bounds (RFC 3339). When Since is empty, the loop
	// uses a rolling window of Window ending at the current time.
	Since  string
	Until  string
	Window time.Duration

	// Interval is the pause after each search request. Derive it from
	// the request budget: time window divided by request limit.
	Interval time.Duration

	// Credentials for re-login when a session refresh fails.
	Identifier string
	Password   string

	// Session recovery bounds. Zero values get sane defaults.
	AuthRetries int
	AuthBackoff time.Duration
}

// Fetcher runs the polling loop. It is the sole owner of the per-query
// cursors; nothing downstream reads them.
type Fetcher struct {
	client  Client
	queue   *queue.Queue
	cfg     Config
	cursors map[string]string
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFetcher creates a Fetcher. The clock is injectable for tests.
func NewFetcher(client Client, q *queue.Queue, cfg Config, clock clockwork.Clock, logger *slog.Logger, m *observability.Metrics) *Fetcher {
	if cfg.AuthRetries <= 0 {
		cfg.AuthRetries = 5
	}
	if cfg.AuthBackoff <= 0 {
		cfg.AuthBackoff = time.Second
	}
	return &Fetcher{
		client:  client,
		queue:   q,
		cfg:     cfg,
		cursors: make(map[string]string),
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// Run polls until the context is cancelled or session recovery is
// exhausted. The returned error is nil on cancellation and non-nil only
// for an unrecoverable authentication failure.
func (f *Fetcher) Run(ctx context.Context) error {
	f.logger.Info("fetch loop started",
		"queries", len(f.cfg.Queries),
		"interval", f.cfg.Interval.String())

	for {
		for _, query := range f.cfg.Queries {
			if ctx.Err() != nil {
				f.logger.Info("fetch loop stopping", "reason", ctx.Err())
				return nil
			}

			err := f.fetchQuery(ctx, query)
			switch {
			case err == nil:
			case ctx.Err() != nil:
				f.logger.Info("fetch loop stopping", "reason", ctx.Err())
				return nil
			case errors.Is(err, bluesky.ErrAuthExpired):
				if err := f.reauthenticate(ctx); err != nil {
					return fmt.Errorf("session recovery exhausted: %w", err)
				}
			default:
				// Transient: skip this query for this round.
				f.logger.Warn("fetch failed", "query", query, "error", err)
				f.metrics.FetchErrors.Inc()
			}

			if !f.pause(ctx) {
				f.logger.Info("fetch loop stopping", "reason", ctx.Err())
				return nil
			}
		}
	}
}

// fetchQuery requests one page for the query, enqueues every post, and
// advances the cursor. An empty returned cursor restarts the query from
// the top of its window on the next round.
func (f *Fetcher) fetchQuery(ctx context.Context, query string) error {
	params := bluesky.SearchParams{
		Query:  query,
		Since:  f.since(),
		Until:  f.cfg.Until,
		Cursor: f.cursors[query],
	}

	results, err := f.client.SearchPosts(ctx, params)
	if err != nil {
		return err
	}

	f.metrics.PostsFetched.Add(float64(len(results.Posts)))
	for _, post := range results.Posts {
		raw := f.toRawPost(post, query)
		if err := raw.Validate(); err != nil {
			f.logger.Debug("skipping malformed post", "uri", post.URI, "error", err)
			continue
		}
		if err := f.queue.Put(ctx, raw); err != nil {
			return err
		}
	}

	f.cursors[query] = results.Cursor
	f.logger.Debug("fetched page",
		"query", query,
		"posts", len(results.Posts),
		"next_cursor", results.Cursor != "")
	return nil
}

// reauthenticate refreshes the session, falling back to a fresh login,
// with bounded backoff between attempts.
func (f *Fetcher) reauthenticate(ctx context.Context) error {
	backoff := f.cfg.AuthBackoff
	var lastErr error

	for attempt := 1; attempt <= f.cfg.AuthRetries; attempt++ {
		err := f.client.RefreshSession(ctx)
		if err == nil {
			f.logger.Info("session refreshed", "attempt", attempt)
			return nil
		}
		lastErr = err
		f.logger.Warn("session refresh failed", "attempt", attempt, "error", err)

		err = f.client.Login(ctx, f.cfg.Identifier, f.cfg.Password)
		if err == nil {
			f.logger.Info("re-login succeeded", "attempt", attempt)
			return nil
		}
		lastErr = err
		f.logger.Warn("re-login failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.clock.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// pause sleeps for the inter-request interval. Returns false when the
// context is cancelled.
func (f *Fetcher) pause(ctx context.Context) bool {
	if f.cfg.Interval <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-f.clock.After(f.cfg.Interval):
		return true
	}
}

// since returns the lower window bound: the explicit one when set,
// otherwise the rolling window's start.
func (f *Fetcher) since() string {
	if f.cfg.Since != "" {
		return f.cfg.Since
	}
	return f.clock.Now().Add(-f.cfg.Window).UTC().Format(time.RFC3339)
}

func (f *Fetcher) toRawPost(post bluesky.Post, query string) domain.RawPost {
	createdAt, err := time.Parse(time.RFC3339, post.Record.CreatedAt)
	if err != nil {
		f.logger.Debug("unparseable createdAt, using fetch time",
			"uri", post.URI, "value", post.Record.CreatedAt)
		createdAt = f.clock.Now()
	}
	return domain.RawPost{
		URI:       post.URI,
		Author:    post.Author.DisplayName,
		Handle:    post.Author.Handle,
		CreatedAt: createdAt.UTC(),
		Query:     query,
		Text:      post.Record.Text,
	}
}
