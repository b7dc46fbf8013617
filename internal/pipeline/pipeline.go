// Package pipeline orchestrates the consumer side of the service:
// dequeue a raw post, enrich it, resolve its location, and persist it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/enrich"
	"github.com/daot/disasterdata/internal/geocode"
	"github.com/daot/disasterdata/internal/observability"
	"github.com/daot/disasterdata/internal/queue"
	"github.com/daot/disasterdata/internal/store"
)

// Enricher derives the enriched fields for one raw post, or returns a
// discard sentinel.
type Enricher interface {
	Enrich(ctx context.Context, raw domain.RawPost) (domain.EnrichedPost, error)
}

// Resolver turns a location mention into coordinates, best-effort.
type Resolver interface {
	Resolve(ctx context.Context, mention string) geocode.Resolution
}

// Persister writes one enriched post to the durable store.
type Persister interface {
	AddPost(ctx context.Context, post domain.EnrichedPost) error
}

// Pipeline runs a fixed pool of workers over the ingestion queue.
type Pipeline struct {
	queue     *queue.Queue
	enricher  Enricher
	resolver  Resolver
	persister Persister
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	workers   int
}

// New creates a Pipeline with the given stages and observability.
func New(q *queue.Queue, e Enricher, r Resolver, p Persister, logger *slog.Logger, metrics *observability.Metrics, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		queue:     q,
		enricher:  e,
		resolver:  r,
		persister: p,
		logger:    logger,
		metrics:   metrics,
		workers:   workers,
	}
}

// CheckReadiness returns nil once at least one post has been persisted
// (or idempotently rejected), or an error describing why the service is
// not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not persisted any posts yet")
	}
	return nil
}

// Run processes queued posts until the context is cancelled. A post
// taken off the queue always runs to completion: workers drain their
// current item before exiting.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "workers", p.workers)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()

	p.logger.Info("pipeline stopped", "reason", ctx.Err())
	return nil
}

func (p *Pipeline) workerLoop(ctx context.Context, id int) {
	for {
		raw, err := p.queue.Get(ctx)
		if err != nil {
			p.logger.Debug("worker stopping", "worker", id)
			return
		}
		p.processOne(ctx, raw)
	}
}

// processOne carries a single post through enrich, resolve, and persist.
// Failures never propagate past this point: discards are counted, a
// resolution miss keeps the post without coordinates, and a persistence
// failure drops the record after logging.
func (p *Pipeline) processOne(ctx context.Context, raw domain.RawPost) {
	enriched, err := p.enricher.Enrich(ctx, raw)
	if err != nil {
		reason := enrich.DiscardReason(err)
		if reason == "" {
			p.logger.Warn("enrichment failed, dropping post", "uri", raw.URI, "error", err)
			return
		}
		p.logger.Debug("post discarded", "uri", raw.URI, "reason", reason)
		p.metrics.PostsDiscarded.WithLabelValues(reason).Inc()
		return
	}

	res := p.resolver.Resolve(ctx, enriched.Location)
	enriched.NormLoc = res.NormLoc
	enriched.Coords = res.Coords

	switch err := p.persister.AddPost(ctx, enriched); {
	case errors.Is(err, store.ErrDuplicate):
		p.logger.Debug("post already stored", "uri", enriched.URI)
		p.metrics.PostsDuplicate.Inc()
		p.ready.Store(true)
	case err != nil:
		// No retry queue exists; the record is dropped.
		p.logger.Error("persist failed, dropping post", "uri", enriched.URI, "error", err)
		p.metrics.PersistErrors.Inc()
	default:
		p.logger.Info("post persisted",
			"uri", enriched.URI,
			"label", string(enriched.Label),
			"norm_loc", enriched.NormLoc,
			"has_coords", enriched.Coords != nil)
		p.metrics.PostsPersisted.Inc()
		p.ready.Store(true)
	}
}
