// Package store is the HTTP client for the durable post store. The
// store enforces at-most-once persistence by post id; this client treats
// duplicate-key rejections as success so the pipeline can be at-least-once.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/daot/disasterdata/internal/domain"
)

// ErrDuplicate signals that a record with the same key already exists.
// Callers treat it as successful delivery.
var ErrDuplicate = errors.New("store: duplicate key")

// Client talks to the durable store's HTTP API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a store client. The auth token is derived from the
// store credentials the same way the store derives it.
func NewClient(baseURL, user, password string, logger *slog.Logger) *Client {
	sum := md5.Sum([]byte(user + password))
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  hex.EncodeToString(sum[:]),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// AddPost submits one enriched post as an idempotent insert keyed by the
// post URI. Returns ErrDuplicate when the store already has the post.
func (c *Client) AddPost(ctx context.Context, post domain.EnrichedPost) error {
	form := url.Values{
		"auth_token": {c.authToken},
		"id":         {post.URI},
		"timestamp":  {post.CreatedAt.UTC().Format(time.RFC3339)},
		"query":      {post.Query},
		"author":     {post.Author},
		"handle":     {post.Handle},
		"text":       {post.Text},
		"cleaned":    {post.Cleaned},
		"label":      {string(post.Label)},
		"location":   {post.Location},
		"sentiment":  {strconv.FormatFloat(post.Sentiment, 'f', -1, 64)},
	}

	return c.postForm(ctx, "/add_row", form)
}

// GetLocation looks up stored coordinates for a normalized location key.
// A 404 is a clean miss, not an error.
func (c *Client) GetLocation(ctx context.Context, normLoc string) (domain.Geo, bool, error) {
	u := c.baseURL + "/get_location?norm_loc=" + url.QueryEscape(normLoc)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Geo{}, false, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Geo{}, false, fmt.Errorf("get location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Geo{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.Geo{}, false, fmt.Errorf("store API error: status %d: %s", resp.StatusCode, body)
	}

	var geo domain.Geo
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return domain.Geo{}, false, fmt.Errorf("decode response: %w", err)
	}
	return geo, true, nil
}

// AddLocation stores a resolved location. Returns ErrDuplicate when the
// key is already present.
func (c *Client) AddLocation(ctx context.Context, normLoc string, geo domain.Geo) error {
	form := url.Values{
		"norm_loc": {normLoc},
		"lat":      {strconv.FormatFloat(geo.Lat, 'f', -1, 64)},
		"lng":      {strconv.FormatFloat(geo.Lng, 'f', -1, 64)},
	}
	err := c.postForm(ctx, "/add_location", form)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
		return nil
	}

	// The store reports duplicates as a 4xx with a structured error body.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var storeErr struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(body, &storeErr); jsonErr == nil &&
			strings.Contains(strings.ToLower(storeErr.Error), "already") {
			return fmt.Errorf("%w: %s", ErrDuplicate, storeErr.Error)
		}
	}

	return fmt.Errorf("store API error: status %d: %s", resp.StatusCode, body)
}
