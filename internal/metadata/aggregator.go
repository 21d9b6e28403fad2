package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ltn22/RadioApp/internal/station"
)

// Poll intervals per provider kind.
const (
	restPollInterval   = 15 * time.Second
	scrapePollInterval = 20 * time.Second
)

// Aggregator routes each station to its metadata provider and owns the
// lifecycle of the single active poll loop or push socket. At most one
// provider task runs at any time.
type Aggregator struct {
	segments *SegmentsClient
	latest   *LatestClient
	scraper  *ScrapeClient
	push     *PushClient
	covers   CoverFetcher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// AggregatorOption is a functional option for configuring the aggregator.
type AggregatorOption func(*Aggregator)

// WithSegmentsClient overrides the time-segment REST client.
func WithSegmentsClient(c *SegmentsClient) AggregatorOption {
	return func(a *Aggregator) { a.segments = c }
}

// WithLatestClient overrides the latest-segment REST client.
func WithLatestClient(c *LatestClient) AggregatorOption {
	return func(a *Aggregator) { a.latest = c }
}

// WithScrapeClient overrides the HTML scraping client.
func WithScrapeClient(c *ScrapeClient) AggregatorOption {
	return func(a *Aggregator) { a.scraper = c }
}

// WithPushClient overrides the push-socket client.
func WithPushClient(c *PushClient) AggregatorOption {
	return func(a *Aggregator) { a.push = c }
}

// NewAggregator creates a metadata aggregator. The cover fetcher is used by
// every provider to resolve cover URLs into image bytes; pass nil to skip
// cover downloads.
func NewAggregator(covers CoverFetcher, opts ...AggregatorOption) *Aggregator {
	if covers == nil {
		covers = noCover{}
	}
	a := &Aggregator{
		segments: NewSegmentsClient(),
		latest:   NewLatestClient(),
		scraper:  NewScrapeClient(),
		push:     NewPushClient(),
		covers:   covers,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// StartMonitoring cancels any in-flight provider task, resolves the
// station's binding, and starts exactly one provider task for it. Stations
// without a binding get no task; their only metadata is inline stream tags.
func (a *Aggregator) StartMonitoring(st station.Station, onUpdate UpdateFunc) {
	a.StopMonitoring()

	ref := st.Metadata
	if ref.Provider == station.ProviderNone {
		log.Debug().Int("stationID", st.ID).Msg("Station has no metadata provider")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	log.Info().
		Int("stationID", st.ID).
		Str("provider", string(ref.Provider)).
		Str("serviceID", ref.ServiceID).
		Msg("Metadata monitoring started")

	switch ref.Provider {
	case station.ProviderRestSegments:
		go a.pollLoop(ctx, done, restPollInterval, onUpdate, func(ctx context.Context) (*TrackMetadata, error) {
			return a.segments.Fetch(ctx, ref.ServiceID, a.covers)
		})
	case station.ProviderRestLatest:
		go a.pollLoop(ctx, done, restPollInterval, onUpdate, func(ctx context.Context) (*TrackMetadata, error) {
			return a.latest.Fetch(ctx, ref.ServiceID, a.covers)
		})
	case station.ProviderScrape:
		go a.pollLoop(ctx, done, scrapePollInterval, onUpdate, func(ctx context.Context) (*TrackMetadata, error) {
			return a.scraper.Fetch(ctx, ref.ServiceID, a.covers)
		})
	case station.ProviderPush:
		go func() {
			defer close(done)
			a.push.Run(ctx, ref.ServiceID, a.covers, onUpdate)
		}()
	default:
		close(done)
	}
}

// pollLoop runs a fetch-parse-emit cycle at a fixed interval. Failures are
// logged and swallowed; the next tick simply retries. An immediate first
// fetch avoids a blank interval after tune-in.
func (a *Aggregator) pollLoop(ctx context.Context, done chan struct{}, interval time.Duration, onUpdate UpdateFunc, fetch func(context.Context) (*TrackMetadata, error)) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle := func() {
		meta, err := fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Debug().Err(err).Msg("Metadata fetch failed, retrying next tick")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		onUpdate(meta)
	}

	cycle()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle()
		}
	}
}

// StopMonitoring cancels the active poll loop or closes the active socket
// and waits for the task to wind down. It is idempotent and safe to call
// when nothing is active.
func (a *Aggregator) StopMonitoring() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	log.Debug().Msg("Metadata monitoring stopped")
}
