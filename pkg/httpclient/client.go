package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// Timeout is the total request timeout, including connection,
	// redirects, and reading the response body.
	Timeout time.Duration

	// MaxIdleConns controls the connection pool size.
	MaxIdleConns int

	// IdleConnTimeout is how long idle connections are kept in the pool.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults for an internal service client.
func DefaultConfig() Config {
	return Config{
		Timeout:         5 * time.Second,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// Client is a thin wrapper around http.Client with context-aware helpers.
type Client struct {
	httpClient *http.Client
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.IdleConnTimeout = cfg.IdleConnTimeout

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Do executes the request with the given context.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}
