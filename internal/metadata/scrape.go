package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultScrapeBaseURL is the now-playing page of the scraped station
	DefaultScrapeBaseURL = "https://www.bide-et-musique.com"
)

// Scrape marker patterns. The page renders the current track as two
// adjacent paragraphs; title and artist are extracted independently so a
// layout change in one does not break the other.
var (
	scrapeTitlePattern  = regexp.MustCompile(`<p\s+class="titre-song"[^>]*>[^<]*<a[^>]*>([^<]+)</a>`)
	scrapeArtistPattern = regexp.MustCompile(`<p\s+class="titre-song2"[^>]*>[^<]*<a[^>]*>([^<]+)</a>`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

// ArtworkSearcher resolves artist+title to a cover URL; the scraped page
// carries no artwork of its own.
type ArtworkSearcher interface {
	Search(ctx context.Context, artist, title string) (string, error)
}

// ScrapeClient extracts now-playing metadata from an HTML page.
type ScrapeClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	search     ArtworkSearcher
}

// ScrapeOption is a functional option for configuring the client.
type ScrapeOption func(*ScrapeClient)

// WithScrapeBaseURL sets a custom base URL (useful for testing).
func WithScrapeBaseURL(url string) ScrapeOption {
	return func(c *ScrapeClient) { c.baseURL = url }
}

// WithScrapeHTTPClient sets a custom HTTP client.
func WithScrapeHTTPClient(client *http.Client) ScrapeOption {
	return func(c *ScrapeClient) { c.httpClient = client }
}

// WithScrapeArtworkSearcher wires a cover art search used once title and
// artist have been extracted.
func WithScrapeArtworkSearcher(s ArtworkSearcher) ScrapeOption {
	return func(c *ScrapeClient) { c.search = s }
}

// NewScrapeClient creates a new HTML scraping client.
func NewScrapeClient(opts ...ScrapeOption) *ScrapeClient {
	c := &ScrapeClient{
		baseURL:   DefaultScrapeBaseURL,
		userAgent: "Mozilla/5.0 (compatible; RadioApp/1.0)",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads the now-playing page and extracts title and artist via
// the two marker patterns. Both must match for a result to be emitted.
func (c *ScrapeClient) Fetch(ctx context.Context, page string, covers CoverFetcher) (*TrackMetadata, error) {
	if page == "" {
		page = "radio-info.php"
	}
	url := fmt.Sprintf("%s/%s", c.baseURL, page)

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

	// Normalize whitespace so the markers match across line breaks.
	html := whitespaceRun.ReplaceAllString(strings.ReplaceAll(string(body), "\n", " "), " ")

	title := firstGroup(scrapeTitlePattern, html)
	artist := firstGroup(scrapeArtistPattern, html)

	if title == "" || artist == "" {
		log.Debug().Str("page", url).Msg("Could not extract title/artist from page")
		return nil, nil
	}

	meta := &TrackMetadata{
		Title:  title,
		Artist: artist,
	}

	if c.search != nil {
		coverURL, err := c.search.Search(ctx, artist, title)
		if err == nil && coverURL != "" {
			meta.CoverURL = coverURL
			meta.CoverImage = covers.Download(ctx, coverURL)
		}
	}

	return meta, nil
}

// firstGroup returns the trimmed first capture group, or "".
func firstGroup(pattern *regexp.Regexp, s string) string {
	m := pattern.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
