package gsc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Credentials holds the OAuth client identity and refresh token for one
// account. The access token is managed by the Client.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	AccessToken  string // optional initial token
}

// Client is an HTTP client for the Search Console API. The access token
// is guarded by a mutex: any goroutine may read it, and a 401 response
// triggers exactly one synchronous refresh before the request is retried.
type Client struct {
	mu          sync.RWMutex
	accessToken string

	httpClient *http.Client
	creds      Credentials
	endpoint   string
	tokenURL   string
}

// NewClient creates a Search Console API client.
// endpoint and tokenURL fall back to the production defaults when empty.
func NewClient(creds Credentials, endpoint, tokenURL string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Client{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		accessToken: creds.AccessToken,
		creds:       creds,
		endpoint:    endpoint,
		tokenURL:    tokenURL,
	}
}

// token returns the current access token.
func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// RefreshToken exchanges the refresh token for a new access token.
// The token slot is held under lock for the duration of the exchange so
// concurrent callers observe either the old or the new token, never a
// partial state. The lock is released on every exit path.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	form := url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"refresh_token": {c.creds.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrAuthRefreshFailed, resp.StatusCode, body)
	}

	var tok tokenRefreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrAuthRefreshFailed, err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("%w: empty access token in response", ErrAuthRefreshFailed)
	}

	c.accessToken = tok.AccessToken
	return nil
}

// queryPath returns the searchAnalytics/query path for a site property.
func queryPath(site string) string {
	return "/webmasters/v3/sites/" + url.PathEscape(site) + "/searchAnalytics/query"
}

// QueryPages fetches the page URLs with recorded traffic on one date.
// This is the pipeline's discovery phase: a single non-batched query
// with the page dimension, capped at PageSize rows.
func (c *Client) QueryPages(ctx context.Context, site, date string) ([]string, error) {
	rows, err := c.query(ctx, site, searchAnalyticsRequest{
		StartDate:  date,
		EndDate:    date,
		Dimensions: []string{DimensionPage},
		RowLimit:   PageSize,
	})
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row.Keys) > 0 {
			pages = append(pages, row.Keys[0])
		}
	}
	return pages, nil
}

// query issues one searchAnalytics/query call, refreshing the access
// token once on a 401.
func (c *Client) query(ctx context.Context, site string, body searchAnalyticsRequest) ([]Row, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	refreshed := false
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint+queryPath(site), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized && !refreshed {
			resp.Body.Close()
			if err := c.RefreshToken(ctx); err != nil {
				return nil, err
			}
			refreshed = true
			continue
		}

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
		}

		var decoded searchAnalyticsResponse
		err = json.NewDecoder(resp.Body).Decode(&decoded)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return decoded.Rows, nil
	}
}
