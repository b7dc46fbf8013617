// Package geocode resolves free-form place-name mentions to coordinates
// through a tiered lookup: exact cache, fuzzy cache match, durable store,
// then a rate-limited external geocoder with write-back.
package geocode

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/daot/disasterdata/internal/domain"
	"github.com/daot/disasterdata/internal/observability"
)

// LocationStore is the durable location tier consulted between the
// in-memory cache and the external geocoder.
type LocationStore interface {
	// GetLocation returns the stored coordinates for a normalized key,
	// with ok=false on a clean 404-style miss.
	GetLocation(ctx context.Context, normLoc string) (domain.Geo, bool, error)
	// AddLocation stores a resolved key. Duplicate keys are not an error.
	AddLocation(ctx context.Context, normLoc string, geo domain.Geo) error
}

// Resolution is the outcome of resolving one mention. Coords is nil on
// a miss; NormLoc is empty when the mention was rejected outright.
type Resolution struct {
	NormLoc string
	Coords  *domain.Geo
}

// Resolver owns the location cache. It is safe for concurrent use by
// pipeline workers: cache access is serialized, concurrent misses on the
// same key share one external call, and total in-flight external calls
// are capped.
type Resolver struct {
	cache    *cache
	store    LocationStore // may be nil
	geocoder domain.Geocoder
	lev      *metrics.Levenshtein

	threshold float64
	sem       *semaphore.Weighted
	inflight  singleflight.Group

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewResolver creates a Resolver. Pass a nil geocoder to run cache-only,
// and a nil store to skip the durable tier.
func NewResolver(store LocationStore, geocoder domain.Geocoder, fuzzyThreshold float64, maxInFlight int, logger *slog.Logger, m *observability.Metrics) *Resolver {
	return &Resolver{
		cache:     newCache(),
		store:     store,
		geocoder:  geocoder,
		lev:       metrics.NewLevenshtein(),
		threshold: fuzzyThreshold,
		sem:       semaphore.NewWeighted(int64(maxInFlight)),
		logger:    logger,
		metrics:   m,
	}
}

// Resolve turns a raw mention into coordinates, or a miss. Misses and
// upstream failures are normal outcomes; the caller keeps the post
// either way.
func (r *Resolver) Resolve(ctx context.Context, mention string) Resolution {
	if mention == "" || IsURL(mention) || IsNumeric(mention) {
		return Resolution{}
	}

	normLoc := Normalize(mention)
	if normLoc == "" {
		return Resolution{}
	}
	miss := Resolution{NormLoc: normLoc}

	if geo, ok := r.cache.get(normLoc); ok {
		r.metrics.GeocodeCache.WithLabelValues("exact", "hit").Inc()
		return Resolution{NormLoc: normLoc, Coords: &geo}
	}
	r.metrics.GeocodeCache.WithLabelValues("exact", "miss").Inc()

	if geo, ok := r.fuzzyLookup(normLoc); ok {
		r.metrics.GeocodeCache.WithLabelValues("fuzzy", "hit").Inc()
		return Resolution{NormLoc: normLoc, Coords: &geo}
	}
	r.metrics.GeocodeCache.WithLabelValues("fuzzy", "miss").Inc()

	// Remaining tiers go through singleflight so concurrent misses on the
	// same key pay for one lookup.
	v, err, _ := r.inflight.Do(normLoc, func() (any, error) {
		return r.resolveSlow(ctx, normLoc, mention)
	})
	if err != nil {
		r.logger.Warn("location resolution failed", "mention", mention, "norm_loc", normLoc, "error", err)
		return miss
	}
	geo, ok := v.(domain.Geo)
	if !ok {
		return miss
	}
	return Resolution{NormLoc: normLoc, Coords: &geo}
}

// resolveSlow consults the durable store and then the external geocoder.
// Returns a non-Geo value to signal a clean miss.
func (r *Resolver) resolveSlow(ctx context.Context, normLoc, mention string) (any, error) {
	if r.store != nil {
		geo, ok, err := r.store.GetLocation(ctx, normLoc)
		if err != nil {
			r.logger.Warn("location store lookup failed", "norm_loc", normLoc, "error", err)
		} else if ok {
			r.metrics.GeocodeCache.WithLabelValues("store", "hit").Inc()
			r.cache.put(normLoc, geo)
			return geo, nil
		} else {
			r.metrics.GeocodeCache.WithLabelValues("store", "miss").Inc()
		}
	}

	if r.geocoder == nil {
		return nil, nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	r.metrics.GeocodeInFlight.Inc()
	start := time.Now()
	// The external call gets the original mention; the provider handles
	// raw text better than our flattened key.
	result, err := r.geocoder.Geocode(ctx, mention)
	r.metrics.GeocodeDuration.Observe(time.Since(start).Seconds())
	r.metrics.GeocodeInFlight.Dec()
	r.sem.Release(1)

	if err != nil {
		r.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if !result.Found {
		r.metrics.GeocodeRequests.WithLabelValues("miss").Inc()
		r.logger.Debug("geocoder returned no results", "mention", mention)
		return nil, nil
	}
	r.metrics.GeocodeRequests.WithLabelValues("success").Inc()

	geo := domain.Geo{Lat: result.Lat, Lng: result.Lng}
	r.cache.put(normLoc, geo)
	if r.store != nil {
		if err := r.store.AddLocation(ctx, normLoc, geo); err != nil {
			r.logger.Warn("location store write-back failed", "norm_loc", normLoc, "error", err)
		}
	}
	return geo, nil
}

// fuzzyLookup scans known keys for the best Levenshtein similarity above
// the threshold. Keys are scanned in insertion order and only a strictly
// better score replaces the candidate, so ties resolve deterministically
// to the earliest entry.
func (r *Resolver) fuzzyLookup(normLoc string) (domain.Geo, bool) {
	if r.threshold <= 0 {
		return domain.Geo{}, false
	}

	var (
		bestKey   string
		bestScore float64
	)
	for _, key := range r.cache.keys() {
		score := strutil.Similarity(normLoc, key, r.lev)
		if score > bestScore {
			bestKey, bestScore = key, score
		}
	}
	if bestScore < r.threshold {
		return domain.Geo{}, false
	}
	geo, ok := r.cache.get(bestKey)
	return geo, ok
}

// CacheSize reports the number of cached locations.
func (r *Resolver) CacheSize() int { return r.cache.len() }

// SeedFromCSV preloads the cache from a city,lat,lng CSV file so common
// places resolve without any external calls.
func (r *Resolver) SeedFromCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	loaded := 0
	for i, rec := range records {
		if i == 0 || len(rec) < 3 {
			continue // header or short row
		}
		lat, latErr := strconv.ParseFloat(rec[1], 64)
		lng, lngErr := strconv.ParseFloat(rec[2], 64)
		if latErr != nil || lngErr != nil {
			continue
		}
		key := Normalize(rec[0])
		if key == "" {
			continue
		}
		r.cache.put(key, domain.Geo{Lat: lat, Lng: lng})
		loaded++
	}
	return loaded, nil
}
