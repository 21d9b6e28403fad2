package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultLatestBaseURL is the latest-segment metadata API base URL
	DefaultLatestBaseURL = "https://rms.api.bbc.co.uk"

	// imageRecipe is the size token substituted into image URL templates
	imageRecipe = "400x400"
)

// LatestClient fetches now-playing metadata from a REST API that returns the
// most recently played segment first.
type LatestClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// LatestOption is a functional option for configuring the client.
type LatestOption func(*LatestClient)

// WithLatestBaseURL sets a custom base URL (useful for testing).
func WithLatestBaseURL(url string) LatestOption {
	return func(c *LatestClient) { c.baseURL = url }
}

// WithLatestHTTPClient sets a custom HTTP client.
func WithLatestHTTPClient(client *http.Client) LatestOption {
	return func(c *LatestClient) { c.httpClient = client }
}

// NewLatestClient creates a new latest-segment metadata client.
func NewLatestClient(opts ...LatestOption) *LatestClient {
	c := &LatestClient{
		baseURL:   DefaultLatestBaseURL,
		userAgent: "RadioApp/1.0",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// latestResponse is the wire shape of the segments/latest endpoint.
type latestResponse struct {
	Data []latestSegment `json:"data"`
}

type latestSegment struct {
	Titles struct {
		Primary   string `json:"primary"`
		Secondary string `json:"secondary"`
	} `json:"titles"`
	// image_url is a string template on the current API but arrived as an
	// object with a "template" key on older responses. Both shapes carry a
	// {recipe} placeholder.
	ImageURL json.RawMessage `json:"image_url"`
	Synopses struct {
		ImageURL struct {
			Template string `json:"template"`
		} `json:"image_url"`
	} `json:"synopses"`
}

// Fetch returns the metadata of the most recent segment, or nil when the
// feed is empty or titleless.
func (c *LatestClient) Fetch(ctx context.Context, serviceID string, covers CoverFetcher) (*TrackMetadata, error) {
	url := fmt.Sprintf("%s/v2/services/%s/segments/latest?experience=domestic&limit=1", c.baseURL, serviceID)

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

	var data latestResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if len(data.Data) == 0 {
		return nil, nil
	}

	seg := data.Data[0]
	title := strings.TrimSpace(seg.Titles.Primary)
	if title == "" {
		return nil, nil
	}

	meta := &TrackMetadata{
		Title:  title,
		Artist: strings.TrimSpace(seg.Titles.Secondary),
	}

	if template := seg.imageTemplate(); template != "" {
		meta.CoverURL = strings.ReplaceAll(template, "{recipe}", imageRecipe)
		if strings.HasPrefix(meta.CoverURL, "http") {
			meta.CoverImage = covers.Download(ctx, meta.CoverURL)
		}
	}

	return meta, nil
}

// imageTemplate extracts the image URL template, trying the string shape,
// the object shape, then the synopses fallback.
func (s latestSegment) imageTemplate() string {
	if len(s.ImageURL) > 0 {
		var direct string
		if err := json.Unmarshal(s.ImageURL, &direct); err == nil && strings.Contains(direct, "{recipe}") {
			return direct
		}
		var obj struct {
			Template string `json:"template"`
		}
		if err := json.Unmarshal(s.ImageURL, &obj); err == nil && obj.Template != "" {
			return obj.Template
		}
	}
	return s.Synopses.ImageURL.Template
}
