// Package artwork resolves cover art via the public iTunes search API.
package artwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // cover decode support
	_ "image/jpeg" // cover decode support
	_ "image/png"  // cover decode support
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp" // cover decode support
)

const (
	// DefaultITunesBaseURL is the iTunes search API base URL
	DefaultITunesBaseURL = "https://itunes.apple.com"

	// DefaultUserAgent identifies us to the search API
	DefaultUserAgent = "RadioApp/1.0"

	// DefaultTimeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// DefaultRateLimit - the search API is unauthenticated, stay conservative
	DefaultRateLimit = 5 // requests per second

	// maxImageBytes bounds a cover download
	maxImageBytes = 5 << 20
)

// Common errors
var (
	// ErrNotFound indicates no artwork matched the search term
	ErrNotFound = errors.New("artwork not found")

	// ErrTemporaryFailure indicates a temporary failure (should retry later)
	ErrTemporaryFailure = errors.New("temporary failure")
)

// Resolver searches for track artwork and downloads cover images.
type Resolver struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rateLimiter
}

// Option is a functional option for configuring the resolver.
type Option func(*Resolver)

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(r *Resolver) {
		r.baseURL = url
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(r *Resolver) {
		r.userAgent = ua
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// NewResolver creates a new artwork resolver.
// No API key required for the public search endpoint.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		baseURL:   DefaultITunesBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: newRateLimiter(DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// searchResponse represents an iTunes search response.
type searchResponse struct {
	ResultCount int            `json:"resultCount"`
	Results     []searchResult `json:"results"`
}

// searchResult is one iTunes search hit.
type searchResult struct {
	ArtworkURL600 string `json:"artworkUrl600"`
	ArtworkURL100 string `json:"artworkUrl100"`
}

// Search queries the search API with "<artist> <title>" and returns the best
// artwork URL of the first result, preferring the 600px rendition.
func (r *Resolver) Search(ctx context.Context, artist, title string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	term := url.QueryEscape(artist + " " + title)
	searchURL := fmt.Sprintf("%s/search?term=%s&media=music&limit=1", r.baseURL, term)

	log.Debug().
		Str("artist", artist).
		Str("title", title).
		Msg("Searching iTunes for cover art")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Success
	case http.StatusTooManyRequests, http.StatusServiceUnavailable,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		log.Warn().Int("status", resp.StatusCode).Msg("iTunes search temporary error")
		return "", ErrTemporaryFailure
	default:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var search searchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if len(search.Results) == 0 {
		log.Debug().Str("artist", artist).Str("title", title).Msg("No cover art found on iTunes")
		return "", ErrNotFound
	}

	first := search.Results[0]
	if first.ArtworkURL600 != "" {
		return first.ArtworkURL600, nil
	}
	if first.ArtworkURL100 != "" {
		return first.ArtworkURL100, nil
	}

	return "", ErrNotFound
}

// Download fetches a cover image and validates that it decodes.
// It returns nil on any failure; artwork never blocks metadata display.
func (r *Resolver) Download(ctx context.Context, imageURL string) []byte {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		log.Debug().Err(err).Str("url", imageURL).Msg("Invalid cover URL")
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", imageURL).Msg("Cover download failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debug().Int("status", resp.StatusCode).Str("url", imageURL).Msg("Cover download rejected")
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		log.Debug().Err(err).Str("url", imageURL).Msg("Cover read failed")
		return nil
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("url", imageURL).Msg("Cover decode failed")
		return nil
	}

	log.Debug().
		Str("url", imageURL).
		Str("format", format).
		Int("size", len(data)).
		Msg("Cover downloaded")

	return data
}

// rateLimiter implements a simple token bucket rate limiter
type rateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	return &rateLimiter{
		interval: time.Second / time.Duration(requestsPerSecond),
	}
}

// Wait blocks until the next request slot, or until the context is done.
func (l *rateLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	next := l.lastCall.Add(l.interval)
	if next.Before(now) {
		next = now
	}
	l.lastCall = next
	l.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
