// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tracker fetches torrent metadata from the MyAnonamouse search API.
package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/autobrr/shelf/internal/buildinfo"
	"github.com/autobrr/shelf/internal/models"
)

const searchPath = "/tor/js/loadSearchJSONbasic.php"

var (
	// ErrNotFound is returned when the tracker has no torrent for the query.
	ErrNotFound = errors.New("torrent not found on tracker")
	// ErrUnauthorized is returned when the session cookie is rejected.
	ErrUnauthorized = errors.New("tracker rejected session")
)

// Config configures a Client.
type Config struct {
	URL        string
	MamID      string
	Timeout    time.Duration
	Retries    uint
	RetryDelay time.Duration

	// Consecutive failures before the breaker opens, and how long it stays open.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	HTTPClient *http.Client
}

// Client is a rate-safe search client with retries and a circuit breaker.
type Client struct {
	baseURL    string
	mamID      string
	retries    uint
	retryDelay time.Duration
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker[*SearchResponse]
}

// NewClient builds a Client from cfg, applying defaults for zero values.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("tracker url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		mamID:      cfg.MamID,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		http:       httpClient,
	}

	threshold := cfg.BreakerThreshold
	c.breaker = gobreaker.NewCircuitBreaker[*SearchResponse](gobreaker.Settings{
		Name:        "tracker",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[TRACKER] Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})

	return c, nil
}

// TorrentByHash looks up a torrent by its info hash.
func (c *Client) TorrentByHash(ctx context.Context, hash string) (*models.Meta, error) {
	return c.lookup(ctx, searchTor{Hash: strings.ToLower(hash)}, "hash "+hash)
}

// TorrentByID looks up a torrent by its tracker id.
func (c *Client) TorrentByID(ctx context.Context, id int64) (*models.Meta, error) {
	return c.lookup(ctx, searchTor{ID: id}, fmt.Sprintf("id %d", id))
}

// BreakerState reports the current circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) lookup(ctx context.Context, tor searchTor, what string) (*models.Meta, error) {
	tor.SearchType = "all"
	tor.SearchIn = "torrents"
	tor.StartNumber = "0"

	resp, err := c.search(ctx, searchRequest{
		Tor:         tor,
		Description: true,
		Isbn:        true,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrNotFound
	}

	meta, err := resp.Data[0].ToMeta()
	if err != nil {
		return nil, fmt.Errorf("convert tracker result for %s: %w", what, err)
	}

	log.Trace().Str("query", what).Str("title", meta.Title).Msg("[TRACKER] Fetched metadata")
	return meta, nil
}

func (c *Client) search(ctx context.Context, req searchRequest) (*SearchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	var resp *SearchResponse
	err = retry.Do(
		func() error {
			var doErr error
			resp, doErr = c.breaker.Execute(func() (*SearchResponse, error) {
				return c.do(ctx, body)
			})
			return doErr
		},
		retry.Context(ctx),
		retry.Attempts(c.retries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Msg("[TRACKER] Retrying search")
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, body []byte) (*SearchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.AddCookie(&http.Cookie{Name: "mam_id", Value: c.mamID})

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case res.StatusCode != http.StatusOK:
		return nil, &statusError{code: res.StatusCode, body: truncate(string(data), 200)}
	}

	var out SearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	if out.Error != "" {
		if strings.HasPrefix(strings.ToLower(out.Error), "nothing returned") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tracker error: %s", out.Error)
	}

	return &out, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("tracker returned status %d", e.code)
	}
	return fmt.Sprintf("tracker returned status %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
