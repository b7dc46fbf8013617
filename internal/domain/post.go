package domain

import (
	"errors"
	"time"
)

// Label is a disaster-type classification from a fixed closed set.
type Label string

const (
	LabelHurricane  Label = "hurricane"
	LabelFlood      Label = "flood"
	LabelTornado    Label = "tornado"
	LabelWildfire   Label = "wildfire"
	LabelEarthquake Label = "earthquake"

	// LabelOther is the sentinel for posts that do not mention a hazard.
	// Posts labeled other never reach persistence.
	LabelOther Label = "other"
)

// HazardLabels returns the valid hazard types in canonical order.
func HazardLabels() []Label {
	return []Label{LabelHurricane, LabelFlood, LabelTornado, LabelWildfire, LabelEarthquake}
}

// IsHazard reports whether l names an actual hazard rather than the
// "other" sentinel or an unknown value.
func (l Label) IsHazard() bool {
	switch l {
	case LabelHurricane, LabelFlood, LabelTornado, LabelWildfire, LabelEarthquake:
		return true
	}
	return false
}

// RawPost is an unprocessed post as returned by the search API.
type RawPost struct {
	// URI is the AT-URI of the post, globally unique per post.
	URI       string
	Author    string // display name, may be empty
	Handle    string
	CreatedAt time.Time // always UTC
	Query     string    // originating topic query
	Text      string
}

// Validate checks the fields the enrichment stage depends on.
func (p RawPost) Validate() error {
	if p.URI == "" {
		return errors.New("post has no uri")
	}
	if p.Text == "" {
		return errors.New("post has no text")
	}
	if p.CreatedAt.IsZero() {
		return errors.New("post has no creation time")
	}
	return nil
}

// Geo is a WGS-84 latitude/longitude pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// EnrichedPost is a RawPost after enrichment and location resolution.
type EnrichedPost struct {
	RawPost

	Cleaned   string  // preprocessed text, legitimately may be empty
	Location  string  // raw place-name mention extracted from the text
	Sentiment float64 // VADER compound score in [-1, 1]
	Label     Label

	// NormLoc is the deterministic cache key derived from Location.
	NormLoc string
	// Coords is nil when the mention could not be resolved.
	Coords *Geo

	ProcessedAt time.Time
}
