package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daot/disasterdata/internal/classify"
	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/enrich"
	"github.com/daot/disasterdata/internal/geocode"
	"github.com/daot/disasterdata/internal/observability"
	"github.com/daot/disasterdata/internal/queue"
	"github.com/daot/disasterdata/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGeocoder struct {
	mu      sync.Mutex
	calls   int
	results map[string]domain.GeocodeResult
}

func (g *fakeGeocoder) Geocode(_ context.Context, location string) (domain.GeocodeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if res, ok := g.results[location]; ok {
		return res, nil
	}
	return domain.GeocodeResult{}, nil
}

type capturePersister struct {
	mu    sync.Mutex
	posts []domain.EnrichedPost
	errs  []error // returned in order, then nil
	added chan struct{}
}

func newCapturePersister() *capturePersister {
	return &capturePersister{added: make(chan struct{}, 16)}
}

func (p *capturePersister) AddPost(_ context.Context, post domain.EnrichedPost) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer func() { p.added <- struct{}{} }()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return err
		}
	}
	p.posts = append(p.posts, post)
	return nil
}

func (p *capturePersister) stored() []domain.EnrichedPost {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EnrichedPost(nil), p.posts...)
}

func waitAdded(t *testing.T, p *capturePersister, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.added:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for persist call %d of %d", i+1, n)
		}
	}
}

type testHarness struct {
	queue     *queue.Queue
	pipeline  *Pipeline
	persister *capturePersister
	geocoder  *fakeGeocoder
	cancel    context.CancelFunc
	done      chan struct{}
}

func startPipeline(t *testing.T, persister *capturePersister, geocoder *fakeGeocoder) *testHarness {
	t.Helper()
	logger := testLogger()
	m := observability.NewMetricsForTesting()

	q := queue.New(16, m)
	resolver := geocode.NewResolver(nil, geocoder, 0.85, 5, logger, m)
	enricher := enrich.NewEnricher(8, classify.NewKeywordClassifier(), logger)
	p := New(q, enricher, resolver, persister, logger, m, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	h := &testHarness{queue: q, pipeline: p, persister: persister, geocoder: geocoder, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func enqueue(t *testing.T, q *queue.Queue, text string) {
	t.Helper()
	err := q.Put(context.Background(), domain.RawPost{
		URI:       "at://did:plc:test/app.bsky.feed.post/" + text[:3],
		Author:    "Test Author",
		Handle:    "test.bsky.social",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Query:     "wildfire",
		Text:      text,
	})
	require.NoError(t, err)
}

func TestPipeline_EndToEnd(t *testing.T) {
	geocoder := &fakeGeocoder{results: map[string]domain.GeocodeResult{
		"Malibu": {Lat: 34.0259, Lng: -118.7798, Found: true},
	}}
	persister := newCapturePersister()
	h := startPipeline(t, persister, geocoder)

	require.Error(t, h.pipeline.CheckReadiness(context.Background()))

	enqueue(t, h.queue, "Wildfire spreading fast near Malibu, stay safe everyone here")
	waitAdded(t, persister, 1)

	stored := persister.stored()
	require.Len(t, stored, 1)
	post := stored[0]

	assert.Equal(t, "Malibu", post.Location)
	assert.Equal(t, domain.LabelWildfire, post.Label)
	assert.Equal(t, "Malibu", post.NormLoc)
	require.NotNil(t, post.Coords)
	assert.InDelta(t, 34.0259, post.Coords.Lat, 1e-9)
	assert.InDelta(t, -118.7798, post.Coords.Lng, 1e-9)
	assert.GreaterOrEqual(t, post.Sentiment, -1.0)
	assert.LessOrEqual(t, post.Sentiment, 1.0)

	assert.NoError(t, h.pipeline.CheckReadiness(context.Background()))
}

func TestPipeline_DiscardsNeverReachPersistence(t *testing.T) {
	geocoder := &fakeGeocoder{results: map[string]domain.GeocodeResult{
		"Malibu": {Lat: 34.0259, Lng: -118.7798, Found: true},
	}}
	persister := newCapturePersister()
	h := startPipeline(t, persister, geocoder)

	// Too short, no location, and a non-hazard label: all discarded.
	enqueue(t, h.queue, "small fire near Malibu today")
	enqueue(t, h.queue, "the wildfire is still burning and nobody knows where it started")
	enqueue(t, h.queue, "had a wonderful brunch near Malibu today with friends and family")
	// This one survives every gate.
	enqueue(t, h.queue, "Wildfire spreading fast near Malibu, stay safe everyone here")

	waitAdded(t, persister, 1)
	stored := persister.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.LabelWildfire, stored[0].Label)
}

func TestPipeline_DuplicateIsSuccess(t *testing.T) {
	geocoder := &fakeGeocoder{results: map[string]domain.GeocodeResult{}}
	persister := newCapturePersister()
	persister.errs = []error{store.ErrDuplicate}
	h := startPipeline(t, persister, geocoder)

	enqueue(t, h.queue, "massive flooding reported near Houston after days of heavy rain")
	waitAdded(t, persister, 1)

	// The duplicate rejection still counts as successful delivery.
	assert.NoError(t, h.pipeline.CheckReadiness(context.Background()))
	assert.Empty(t, persister.stored())
}

func TestPipeline_PersistFailureDropsAndContinues(t *testing.T) {
	geocoder := &fakeGeocoder{results: map[string]domain.GeocodeResult{}}
	persister := newCapturePersister()
	persister.errs = []error{errors.New("store unavailable")}
	h := startPipeline(t, persister, geocoder)

	enqueue(t, h.queue, "massive flooding reported near Houston after days of heavy rain")
	enqueue(t, h.queue, "Wildfire spreading fast near Malibu, stay safe everyone here")
	waitAdded(t, persister, 2)

	stored := persister.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.LabelWildfire, stored[0].Label)
}

func TestPipeline_GeocodeMissKeepsPost(t *testing.T) {
	geocoder := &fakeGeocoder{results: map[string]domain.GeocodeResult{}}
	persister := newCapturePersister()
	h := startPipeline(t, persister, geocoder)

	enqueue(t, h.queue, "massive flooding reported near Houston after days of heavy rain")
	waitAdded(t, persister, 1)

	stored := persister.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "Houston", stored[0].NormLoc)
	assert.Nil(t, stored[0].Coords)
}
