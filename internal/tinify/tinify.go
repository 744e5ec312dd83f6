package tinify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the production endpoint of the tinify API.
	DefaultBaseURL = "https://api.tinify.com"

	authUser = "api"
)

// APIError reports a non-success response from the compression API.
type APIError struct {
	Status int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tinify: upstream returned status %d", e.Status)
}

// Result describes a successfully compressed image.
type Result struct {
	// URL is the temporary location of the compressed bytes.
	URL string
	// MIMEType is the content type reported for the compressed image.
	MIMEType string
	// Date is the upstream Date header, recorded as the caching timestamp.
	Date string
}

// Client calls the tinify shrink API with HTTP basic auth.
type Client struct {
	httpClient *http.Client
	baseURL    string
	key        string
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, primarily for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLimiter throttles outbound shrink calls.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// NewClient creates a Client authenticated with the given API key.
func NewClient(key string, opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		baseURL:    DefaultBaseURL,
		key:        key,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type shrinkRequest struct {
	Source struct {
		URL string `json:"url"`
	} `json:"source"`
}

type shrinkResponse struct {
	Output struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	} `json:"output"`
}

// Shrink asks the API to compress the image at sourceURL. The API responds
// 201 Created on success; any other status is reported as an *APIError with
// the upstream Date header still populated on the Result.
func (c *Client) Shrink(ctx context.Context, sourceURL string) (Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("tinify: wait for rate limiter: %w", err)
		}
	}

	var payload shrinkRequest
	payload.Source.URL = sourceURL
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("tinify: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shrink", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("tinify: build request: %w", err)
	}
	req.SetBasicAuth(authUser, c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("tinify: shrink %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	result := Result{Date: resp.Header.Get("Date")}

	if resp.StatusCode != http.StatusCreated {
		return result, &APIError{Status: resp.StatusCode}
	}

	var decoded shrinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return result, fmt.Errorf("tinify: decode response: %w", err)
	}

	result.URL = decoded.Output.URL
	result.MIMEType = decoded.Output.Type
	return result, nil
}

// Download fetches the compressed bytes from the URL returned by Shrink.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("tinify: build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tinify: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tinify: read download body: %w", err)
	}
	return data, nil
}
