package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/daot/disasterdata/internal/domain"
)

// HereClient implements domain.Geocoder against the HERE Geocoding API.
type HereClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHereClient creates a HERE geocoding client.
func NewHereClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HereClient {
	return &HereClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Geocode converts a free-form location to coordinates. An empty items
// list means the place is unknown to the provider, which is reported as
// Found=false rather than an error.
func (c *HereClient) Geocode(ctx context.Context, location string) (domain.GeocodeResult, error) {
	params := url.Values{
		"q":      {location},
		"apiKey": {c.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.GeocodeResult{}, fmt.Errorf("geocoder API error: status %d: %s", resp.StatusCode, body)
	}

	var hereResp response
	if err := json.NewDecoder(resp.Body).Decode(&hereResp); err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("decode response: %w", err)
	}

	if len(hereResp.Items) == 0 {
		return domain.GeocodeResult{}, nil
	}

	pos := hereResp.Items[0].Position
	return domain.GeocodeResult{Lat: pos.Lat, Lng: pos.Lng, Found: true}, nil
}

// HERE API response types.

type response struct {
	Items []item `json:"items"`
}

type item struct {
	Position position `json:"position"`
}

type position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
