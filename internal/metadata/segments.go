package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultSegmentsBaseURL is the time-segment metadata API base URL
	DefaultSegmentsBaseURL = "https://api.radiofrance.fr"

	// segmentEndSlack keeps a segment current slightly past its end time,
	// covering clock skew between us and the broadcaster.
	segmentEndSlack = 5 * time.Second
)

// SegmentsClient fetches now-playing metadata from a REST API that returns a
// map of time-bounded programme segments. The current segment is the one
// whose [start, end+5s] window contains now.
type SegmentsClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	now        func() time.Time
}

// SegmentsOption is a functional option for configuring the client.
type SegmentsOption func(*SegmentsClient)

// WithSegmentsBaseURL sets a custom base URL (useful for testing).
func WithSegmentsBaseURL(url string) SegmentsOption {
	return func(c *SegmentsClient) { c.baseURL = url }
}

// WithSegmentsHTTPClient sets a custom HTTP client.
func WithSegmentsHTTPClient(client *http.Client) SegmentsOption {
	return func(c *SegmentsClient) { c.httpClient = client }
}

// WithSegmentsClock overrides the clock (useful for testing).
func WithSegmentsClock(now func() time.Time) SegmentsOption {
	return func(c *SegmentsClient) { c.now = now }
}

// NewSegmentsClient creates a new time-segment metadata client.
func NewSegmentsClient(opts ...SegmentsOption) *SegmentsClient {
	c := &SegmentsClient{
		baseURL:   DefaultSegmentsBaseURL,
		userAgent: "RadioApp/1.0",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// segmentsResponse is the wire shape of the pull endpoint.
type segmentsResponse struct {
	Steps map[string]segment `json:"steps"`
}

type segment struct {
	Start        float64       `json:"start"`
	End          float64       `json:"end"`
	Title        string        `json:"title"`
	Authors      string        `json:"authors"`
	Annonceur    string        `json:"annonceur"`
	Personalites []personality `json:"personalites"`
	TitreAlbum   string        `json:"titreAlbum"`
	TitleConcept string        `json:"titleConcept"`
	Visual       string        `json:"visual"`
	Path         string        `json:"path"`
}

type personality struct {
	Nom string `json:"nom"`
}

// Fetch returns the metadata of the segment on air now, or nil when no
// segment covers the current time.
func (c *SegmentsClient) Fetch(ctx context.Context, serviceID string, covers CoverFetcher) (*TrackMetadata, error) {
	url := fmt.Sprintf("%s/livemeta/pull/%s", c.baseURL, serviceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var data segmentsResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	now := float64(c.now().UnixMilli()) / 1000.0
	slack := segmentEndSlack.Seconds()

	// The end slack can make consecutive segments' windows overlap; the
	// most recently started one wins so the pick does not depend on map
	// iteration order.
	var current *TrackMetadata
	var currentStart float64
	for _, step := range data.Steps {
		if step.Start > now || now > step.End+slack {
			continue
		}
		if current != nil && step.Start <= currentStart {
			continue
		}
		meta := normalizeSegment(step)
		if !meta.valid() {
			continue
		}
		current = meta
		currentStart = step.Start
	}

	if current == nil {
		return nil, nil
	}

	if current.CoverURL != "" && strings.HasPrefix(current.CoverURL, "http") {
		current.CoverImage = covers.Download(ctx, current.CoverURL)
	}
	log.Debug().
		Str("title", current.Title).
		Str("artist", current.Artist).
		Msg("Current segment found")
	return current, nil
}

// normalizeSegment maps a wire segment to TrackMetadata. When the authors
// field is absent the extractor walks an ordered fallback list: the
// announcer field, then the first personality's name.
func normalizeSegment(step segment) *TrackMetadata {
	artist := strings.TrimSpace(step.Authors)
	if artist == "" {
		artist = strings.TrimSpace(step.Annonceur)
	}
	if artist == "" && len(step.Personalites) > 0 {
		artist = strings.TrimSpace(step.Personalites[0].Nom)
	}

	album := step.TitreAlbum
	if album == "" {
		album = step.TitleConcept
	}

	return &TrackMetadata{
		Title:      strings.TrimSpace(step.Title),
		Artist:     artist,
		Album:      album,
		CoverURL:   step.Visual,
		ProgramURL: step.Path,
	}
}
