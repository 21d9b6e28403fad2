// Package metadata aggregates near-real-time track metadata from
// per-station external sources.
package metadata

import (
	"context"
	"errors"
	"strings"
)

// Common errors
var (
	// ErrNoMetadata indicates the source had no usable now-playing entry
	ErrNoMetadata = errors.New("no metadata available")

	// ErrMonitorActive indicates a provider task is already running
	ErrMonitorActive = errors.New("monitoring already active")
)

// TrackMetadata describes the track currently on air. A nil TrackMetadata
// means "nothing known"; consumers fall back to the station name.
type TrackMetadata struct {
	Title      string
	Artist     string
	Album      string
	CoverURL   string
	CoverImage []byte
	ProgramURL string
}

// Display returns the human form of the track, "Artist - Title" when an
// artist is known.
func (m *TrackMetadata) Display() string {
	if m == nil {
		return ""
	}
	if strings.TrimSpace(m.Artist) != "" {
		return m.Artist + " - " + m.Title
	}
	return m.Title
}

// valid reports whether a parsed result carries at least a title or an
// artist after trimming. Anything else is discarded.
func (m *TrackMetadata) valid() bool {
	if m == nil {
		return false
	}
	return strings.TrimSpace(m.Title) != "" || strings.TrimSpace(m.Artist) != ""
}

// UpdateFunc receives normalized metadata. A nil value means the source
// produced nothing usable this cycle.
type UpdateFunc func(*TrackMetadata)

// CoverFetcher downloads a cover image, returning nil on any failure.
type CoverFetcher interface {
	Download(ctx context.Context, url string) []byte
}

// noCover is the fallback fetcher when none is configured.
type noCover struct{}

func (noCover) Download(context.Context, string) []byte { return nil }
