package geocode

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/observability"
)

// --- fakes ---

type fakeGeocoder struct {
	results map[string]domain.GeocodeResult
	err     error
	delay   time.Duration

	calls    atomic.Int64
	inflight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeGeocoder) Geocode(_ context.Context, location string) (domain.GeocodeResult, error) {
	f.calls.Add(1)
	cur := f.inflight.Add(1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.inflight.Add(-1)

	if f.err != nil {
		return domain.GeocodeResult{}, f.err
	}
	if res, ok := f.results[location]; ok {
		return res, nil
	}
	return domain.GeocodeResult{}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	locations map[string]domain.Geo
	gets      int
	adds      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{locations: make(map[string]domain.Geo)}
}

func (s *fakeStore) GetLocation(_ context.Context, normLoc string) (domain.Geo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	geo, ok := s.locations[normLoc]
	return geo, ok, nil
}

func (s *fakeStore) AddLocation(_ context.Context, normLoc string, geo domain.Geo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adds++
	s.locations[normLoc] = geo
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newResolver(store LocationStore, geocoder domain.Geocoder) *Resolver {
	return NewResolver(store, geocoder, 0.85, 5, discardLogger(), observability.NewMetricsForTesting())
}

// --- normalization ---

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"los   ANGELES!!", "Los Angeles"},
		{"nyc", "New York City"},
		{"tx", "Texas"},
		{"texas", "Texas"},
		{"Malibu", "Malibu"},
		{"  san  diego ", "San Diego"},
		{"???", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, s := range []string{"los   ANGELES!!", "nyc", "TX", "Semi-Valley, CA?", "washington", "dc", "usa"} {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "input %q", s)
	}
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("example.com/fires"))
	assert.True(t, IsURL("https://news.site"))
	assert.False(t, IsURL("Malibu"))
	assert.False(t, IsURL("Los Angeles"))
}

// --- resolution tiers ---

func TestResolve_RejectsNonLocations(t *testing.T) {
	geo := &fakeGeocoder{}
	r := newResolver(nil, geo)

	assert.Nil(t, r.Resolve(context.Background(), "example.com").Coords)
	assert.Nil(t, r.Resolve(context.Background(), "12345").Coords)
	assert.Nil(t, r.Resolve(context.Background(), "!!!").Coords)
	assert.Equal(t, int64(0), geo.calls.Load())
	assert.Equal(t, 0, r.CacheSize())
}

func TestResolve_CacheDeterminism(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]domain.GeocodeResult{
		"Los Angeles": {Lat: 34.0522, Lng: -118.2437, Found: true},
	}}
	r := newResolver(nil, geo)
	ctx := context.Background()

	first := r.Resolve(ctx, "Los Angeles")
	require.NotNil(t, first.Coords)
	assert.Equal(t, "Los Angeles", first.NormLoc)

	// A noisy variant of the same mention must hit the cache, not the
	// geocoder.
	second := r.Resolve(ctx, "los   ANGELES!!")
	require.NotNil(t, second.Coords)
	assert.Equal(t, *first.Coords, *second.Coords)
	assert.Equal(t, int64(1), geo.calls.Load())
}

func TestResolve_FuzzyHit(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]domain.GeocodeResult{
		"Los Angeles": {Lat: 34.0522, Lng: -118.2437, Found: true},
	}}
	r := newResolver(nil, geo)
	ctx := context.Background()

	require.NotNil(t, r.Resolve(ctx, "Los Angeles").Coords)

	// One-letter misspelling is above the 0.85 similarity threshold.
	res := r.Resolve(ctx, "Los Angelos")
	require.NotNil(t, res.Coords)
	assert.Equal(t, 34.0522, res.Coords.Lat)
	assert.Equal(t, int64(1), geo.calls.Load())
}

func TestResolve_FuzzyBelowThresholdGoesUpstream(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]domain.GeocodeResult{
		"Paris":  {Lat: 48.8566, Lng: 2.3522, Found: true},
		"Berlin": {Lat: 52.52, Lng: 13.405, Found: true},
	}}
	r := newResolver(nil, geo)
	ctx := context.Background()

	require.NotNil(t, r.Resolve(ctx, "Paris").Coords)
	res := r.Resolve(ctx, "Berlin")
	require.NotNil(t, res.Coords)
	assert.Equal(t, 52.52, res.Coords.Lat)
	assert.Equal(t, int64(2), geo.calls.Load())
}

func TestResolve_StoreTier(t *testing.T) {
	store := newFakeStore()
	store.locations["Malibu"] = domain.Geo{Lat: 34.0259, Lng: -118.7798}
	geo := &fakeGeocoder{}
	r := NewResolver(store, geo, 0.85, 5, discardLogger(), observability.NewMetricsForTesting())

	res := r.Resolve(context.Background(), "malibu")
	require.NotNil(t, res.Coords)
	assert.Equal(t, 34.0259, res.Coords.Lat)
	assert.Equal(t, int64(0), geo.calls.Load())

	// Store hit was written back to the in-memory cache.
	res = r.Resolve(context.Background(), "Malibu")
	require.NotNil(t, res.Coords)
	assert.Equal(t, 1, store.gets)
}

func TestResolve_WriteBackToStore(t *testing.T) {
	store := newFakeStore()
	geo := &fakeGeocoder{results: map[string]domain.GeocodeResult{
		"Malibu": {Lat: 34.0259, Lng: -118.7798, Found: true},
	}}
	r := NewResolver(store, geo, 0.85, 5, discardLogger(), observability.NewMetricsForTesting())

	res := r.Resolve(context.Background(), "Malibu")
	require.NotNil(t, res.Coords)
	assert.Equal(t, domain.Geo{Lat: 34.0259, Lng: -118.7798}, store.locations["Malibu"])
}

func TestResolve_UpstreamMissKeepsPost(t *testing.T) {
	geo := &fakeGeocoder{} // knows nothing
	r := newResolver(nil, geo)

	res := r.Resolve(context.Background(), "Atlantis")
	assert.Nil(t, res.Coords)
	assert.Equal(t, "Atlantis", res.NormLoc)
	// Misses are not cached, so the next mention retries upstream.
	r.Resolve(context.Background(), "Atlantis")
	assert.Equal(t, int64(2), geo.calls.Load())
}

func TestResolve_AtMostOneCallPerKey(t *testing.T) {
	geo := &fakeGeocoder{results: map[string]domain.GeocodeResult{
		"Tokyo": {Lat: 35.6762, Lng: 139.6503, Found: true},
	}}
	r := newResolver(nil, geo)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res := r.Resolve(ctx, "Tokyo")
		require.NotNil(t, res.Coords)
	}
	assert.Equal(t, int64(1), geo.calls.Load())
}

func TestResolve_ConcurrencyBound(t *testing.T) {
	geo := &fakeGeocoder{delay: 30 * time.Millisecond}
	limit := 3
	r := NewResolver(nil, geo, 0.0, limit, discardLogger(), observability.NewMetricsForTesting())

	// 0.0 threshold disables fuzzy matching so every distinct mention
	// goes upstream.
	mentions := []string{
		"Qqqqqq", "Wwwwww", "Eeeeee", "Rrrrrr", "Tttttt",
		"Yyyyyy", "Uuuuuu", "Iiiiii", "Oooooo", "Pppppp",
	}

	var wg sync.WaitGroup
	for _, m := range mentions {
		wg.Add(1)
		go func(mention string) {
			defer wg.Done()
			r.Resolve(context.Background(), mention)
		}(m)
	}
	wg.Wait()

	assert.Equal(t, int64(len(mentions)), geo.calls.Load())
	assert.LessOrEqual(t, geo.maxSeen.Load(), int64(limit))
}

func TestSeedFromCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cities.csv")
	content := "city,lat,lng\nLos Angeles,34.0522,-118.2437\nbad,row\nTokyo,35.6762,139.6503\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	geo := &fakeGeocoder{}
	r := newResolver(nil, geo)

	loaded, err := r.SeedFromCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	res := r.Resolve(context.Background(), "tokyo")
	require.NotNil(t, res.Coords)
	assert.Equal(t, int64(0), geo.calls.Load())
}
