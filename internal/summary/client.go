package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultUserAgent identifies pagelog to the REST API.
const DefaultUserAgent = "pagelog/0.1 (https://github.com/runnerr0/pagelog)"

// Client is a page summary REST client.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sends every request to baseURL instead of the project host.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new page summary client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// summaryResponse is the REST page summary payload.
type summaryResponse struct {
	Title        string `json:"title"`
	DisplayTitle string `json:"displaytitle"`
	Description  string `json:"description"`
	Extract      string `json:"extract"`
	Thumbnail    *struct {
		Source string `json:"source"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"thumbnail"`
}

func (c *Client) summaryURL(projectID, title string) (string, error) {
	base := c.baseURL
	if base == "" {
		host, err := ProjectHost(projectID)
		if err != nil {
			return "", err
		}
		base = "https://" + host
	}
	return base + "/api/rest_v1/page/summary/" + url.PathEscape(strings.ReplaceAll(title, " ", "_")), nil
}

// FetchArticleSummary fetches the summary for title on projectID. A
// summary without a thumbnail is returned together with ErrNoThumbnail.
func (c *Client) FetchArticleSummary(ctx context.Context, projectID, title string) (*ArticleSummary, error) {
	u, err := c.summaryURL(projectID, title)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, title)
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{Code: resp.StatusCode, URL: u}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var sr summaryResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}

	s := &ArticleSummary{
		Title:       sr.Title,
		Description: sr.Description,
		Extract:     sr.Extract,
	}
	if sr.Thumbnail == nil || sr.Thumbnail.Source == "" {
		return s, ErrNoThumbnail
	}
	s.ThumbnailURL = sr.Thumbnail.Source
	return s, nil
}
