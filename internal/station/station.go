// Package station provides the immutable radio station catalog.
package station

import (
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ProviderKind identifies how track metadata is fetched for a station.
type ProviderKind string

const (
	// ProviderNone means the station has no metadata source beyond inline stream tags.
	ProviderNone ProviderKind = ""

	// ProviderRestSegments polls a REST API returning time-bounded programme segments.
	ProviderRestSegments ProviderKind = "rest-segments"

	// ProviderRestLatest polls a REST API returning the latest played segment.
	ProviderRestLatest ProviderKind = "rest-latest"

	// ProviderScrape polls an HTML now-playing page.
	ProviderScrape ProviderKind = "scrape"

	// ProviderPush subscribes to a websocket now-playing feed.
	ProviderPush ProviderKind = "push"
)

// MetadataRef binds a station to its metadata provider.
type MetadataRef struct {
	Provider  ProviderKind `yaml:"provider"`
	ServiceID string       `yaml:"serviceId"`
}

// Station is one immutable catalog entry for an internet audio stream.
type Station struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	StreamURL string `yaml:"streamUrl"`
	Genre     string `yaml:"genre"`
	LogoURL   string `yaml:"logoUrl"`

	// Metadata binding, resolved once when monitoring starts.
	Metadata MetadataRef `yaml:"metadata"`

	// LegacyEncoding marks stations whose inline stream tags arrive as
	// Latin-1 mislabelled as UTF-8 and need re-decoding.
	LegacyEncoding bool `yaml:"legacyEncoding"`
}

// Catalog is the fixed set of stations, defined once at process start.
type Catalog struct {
	stations []Station
	byID     map[int]Station
}

// PlayCounter reports how many times a station has been tuned in.
type PlayCounter interface {
	GetPlayCount(stationID int) (int64, error)
}

// NewCatalog builds a catalog from a station list.
func NewCatalog(stations []Station) (*Catalog, error) {
	byID := make(map[int]Station, len(stations))
	for _, s := range stations {
		if s.Name == "" || s.StreamURL == "" {
			return nil, fmt.Errorf("station %d: name and streamUrl are required", s.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate station id %d", s.ID)
		}
		byID[s.ID] = s
	}
	return &Catalog{stations: stations, byID: byID}, nil
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file struct {
		Stations []Station `yaml:"stations"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	catalog, err := NewCatalog(file.Stations)
	if err != nil {
		return nil, err
	}

	log.Info().Int("stations", catalog.Len()).Str("path", path).Msg("Station catalog loaded")
	return catalog, nil
}

// Get returns the station with the given id.
func (c *Catalog) Get(id int) (Station, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// All returns the stations in catalog order.
func (c *Catalog) All() []Station {
	out := make([]Station, len(c.stations))
	copy(out, c.stations)
	return out
}

// Len returns the number of stations.
func (c *Catalog) Len() int {
	return len(c.stations)
}

// SortedByPlayCount returns the stations ordered by play count, most played first.
// Stations with equal counts keep catalog order.
func (c *Catalog) SortedByPlayCount(counter PlayCounter) []Station {
	out := c.All()
	counts := make(map[int]int64, len(out))
	for _, s := range out {
		n, err := counter.GetPlayCount(s.ID)
		if err != nil {
			log.Warn().Err(err).Int("stationID", s.ID).Msg("Failed to read play count")
			continue
		}
		counts[s.ID] = n
	}
	sort.SliceStable(out, func(i, j int) bool {
		return counts[out[i].ID] > counts[out[j].ID]
	})
	return out
}
