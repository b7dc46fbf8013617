// Package bluesky is a minimal AT Protocol client covering the session
// and search surface the monitor needs.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrAuthExpired signals that the access token was rejected and the
// session needs a refresh before the next call.
var ErrAuthExpired = errors.New("bluesky: session expired")

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
}

// Client is a session-authenticated Bluesky API client.
type Client struct {
	host       string
	httpClient *http.Client

	// populated after Login / RefreshSession
	accessJwt  string
	refreshJwt string
	did        string
}

// NewClient creates a Bluesky client for the given PDS host.
func NewClient(host string) *Client {
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login authenticates with the PDS and stores the session tokens. Use an
// App Password, not the account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp sessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.refreshJwt = resp.RefreshJwt
	c.did = resp.DID
	return nil
}

// RefreshSession exchanges the refresh token for a new access token.
func (c *Client) RefreshSession(ctx context.Context) error {
	if c.refreshJwt == "" {
		return errors.New("not authenticated: call Login first")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.refreshJwt)

	var resp sessionResponse
	if err := c.do(req, &resp); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.refreshJwt = resp.RefreshJwt
	return nil
}

// SearchParams are the query parameters for SearchPosts.
type SearchParams struct {
	Query  string
	Since  string // RFC 3339, optional
	Until  string // RFC 3339, optional
	Cursor string // empty restarts from the top of the window
}

// SearchResults is one page of search matches plus the next cursor.
// An empty cursor means the window is exhausted.
type SearchResults struct {
	Posts  []Post `json:"posts"`
	Cursor string `json:"cursor"`
}

// Post is a single search hit.
type Post struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		DID         string `json:"did"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
}

// SearchPosts requests one page of posts matching the query, latest
// first, restricted to English. Returns ErrAuthExpired when the access
// token is no longer accepted.
func (c *Client) SearchPosts(ctx context.Context, params SearchParams) (SearchResults, error) {
	if c.accessJwt == "" {
		return SearchResults{}, errors.New("not authenticated: call Login first")
	}

	q := url.Values{
		"q":    {params.Query},
		"sort": {"latest"},
	}
	if params.Since != "" {
		q.Set("since", params.Since)
	}
	if params.Until != "" {
		q.Set("until", params.Until)
	}
	if params.Cursor != "" {
		q.Set("cursor", params.Cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/xrpc/app.bsky.feed.searchPosts?"+q.Encode(), nil)
	if err != nil {
		return SearchResults{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	req.Header.Set("Accept-Language", "en")

	var results SearchResults
	if err := c.do(req, &results); err != nil {
		return SearchResults{}, fmt.Errorf("search posts: %w", err)
	}
	return results, nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || isExpiredToken(resp.StatusCode, respBody) {
		return fmt.Errorf("%w: status %d: %s", ErrAuthExpired, resp.StatusCode, respBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// isExpiredToken detects the XRPC ExpiredToken error, which arrives as a
// 400 with a structured error body.
func isExpiredToken(status int, body []byte) bool {
	if status != http.StatusBadRequest {
		return false
	}
	var xrpcErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &xrpcErr); err != nil {
		return false
	}
	return xrpcErr.Error == "ExpiredToken"
}
