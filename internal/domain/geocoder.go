package domain

import "context"

// GeocodeResult contains coordinates returned by a geocoding provider.
// Found is false when the provider had no match, which is a normal
// outcome rather than an error.
type GeocodeResult struct {
	Lat   float64
	Lng   float64
	Found bool
}

// Geocoder converts a free-form location mention to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, location string) (GeocodeResult, error)
}
