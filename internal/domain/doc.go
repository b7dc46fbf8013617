// Package domain models Bluesky posts as they move through the
// ingestion pipeline.
//
// # Data Source
//
// Posts come from the Bluesky search API (app.bsky.feed.searchPosts),
// polled per topic query with latest-first sort and cursor pagination.
// Each post carries an AT-URI, which is globally unique and doubles as
// the primary key in the durable store, making persistence idempotent.
//
// # Lifecycle
//
// A RawPost is created by the fetch loop, handed across the bounded
// ingestion queue exactly once, and turned into an EnrichedPost by the
// enrichment stage. Enrichment may discard a post outright: fewer than
// the minimum word count, no extractable location mention, or a
// classification outside the hazard label set. Discards are intentional
// relevance filtering, not errors.
//
// # Coordinates
//
// Resolved coordinates are modeled as a single nullable pair (*Geo).
// Latitude and longitude are either both present or both absent; a
// partial coordinate never exists.
package domain
