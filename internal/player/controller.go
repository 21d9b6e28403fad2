package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ltn22/RadioApp/internal/metadata"
	"github.com/ltn22/RadioApp/internal/station"
)

// Common errors
var (
	// ErrUnknownStation indicates the station id is not in the catalog
	ErrUnknownStation = errors.New("unknown station")

	// ErrNoStation indicates no station has been loaded
	ErrNoStation = errors.New("no station loaded")

	// ErrClosed indicates the controller has been shut down
	ErrClosed = errors.New("controller closed")
)

const (
	telemetryInterval = 1 * time.Second

	// metadataDisplayTTL is how long a track stays on display without a
	// newer update before reverting to the station name.
	metadataDisplayTTL = 60 * time.Second
)

// Listener receives the controller's discrete events. All callbacks fire on
// the controller's apply goroutine; implementations must not call back into
// the controller synchronously.
type Listener interface {
	OnPlaybackStateChanged(playing bool)
	OnBufferingUpdate(percent int)
	OnError(message string)
	OnMetadataChanged(title, coverURL string)
	OnTrackMetadataChanged(meta *metadata.TrackMetadata)
	OnIPVersionChanged(family IPFamily)
	OnCastStateChanged(connected bool)
	OnSearchStatus(message string)
}

// StatsRecorder is the listening tracker as the controller sees it.
type StatsRecorder interface {
	StartListening(stationID int)
	RestoreListening(stationID int)
	PauseListening()
	StopListening()
	SetAdvancingFunc(fn func() bool)
}

// ByteSink persists consumed-byte counts.
type ByteSink interface {
	AddDataConsumed(stationID int, bytes int64) error
}

// MetadataSource is the per-station metadata engine.
type MetadataSource interface {
	StartMonitoring(st station.Station, onUpdate metadata.UpdateFunc)
	StopMonitoring()
}

// ArtworkResolver resolves inline-tag tracks to cover art.
type ArtworkResolver interface {
	Search(ctx context.Context, artist, title string) (string, error)
	Download(ctx context.Context, url string) []byte
}

// Status is a point-in-time snapshot of the controller for transports.
type Status struct {
	State            State                   `json:"state"`
	Station          *station.Station        `json:"station,omitempty"`
	Track            *metadata.TrackMetadata `json:"-"`
	Display          string                  `json:"display"`
	BitrateKbps      int                     `json:"bitrateKbps"`
	Codec            string                  `json:"codec,omitempty"`
	IPFamily         IPFamily                `json:"ipFamily,omitempty"`
	BufferingPercent int                     `json:"bufferingPercent"`
	Output           OutputKind              `json:"output"`
	ElapsedMs        int64                   `json:"elapsedMs"`
	CastDevice       string                  `json:"castDevice,omitempty"`
}

// Controller is the playback session state machine. All mutable session
// state is owned by one apply goroutine; public methods and background
// callbacks post work onto its event channel.
type Controller struct {
	catalog *station.Catalog
	tracker StatsRecorder
	bytes   ByteSink
	meta    MetadataSource
	art     ArtworkResolver
	router  *OutputRouter
	skip    *SkipEngine

	events chan func()
	closed chan struct{}
	wg     sync.WaitGroup

	listenerMu sync.Mutex
	listener   Listener

	// sessionPtr mirrors session for the reader goroutine's byte folding;
	// only the apply goroutine stores it.
	sessionPtr atomic.Pointer[Session]

	// Owned by the apply goroutine.
	state     State
	current   *station.Station
	session   *Session
	track     *metadata.TrackMetadata
	rawTitle  string
	buffering int
	metaSeq   uint64
	tickStop  chan struct{}
}

// Config wires the controller's collaborators.
type Config struct {
	Catalog  *station.Catalog
	Tracker  StatsRecorder
	Bytes    ByteSink
	Metadata MetadataSource
	Artwork  ArtworkResolver
	Remote   RemoteSink
}

// NewController builds the controller, its local sink and output router,
// and starts the apply goroutine.
func NewController(cfg Config) *Controller {
	c := &Controller{
		catalog: cfg.Catalog,
		tracker: cfg.Tracker,
		bytes:   cfg.Bytes,
		meta:    cfg.Metadata,
		art:     cfg.Artwork,
		events:  make(chan func(), 64),
		closed:  make(chan struct{}),
		state:   StateIdle,
	}

	local := NewLocalSink(SinkEvents{
		OnBytes: func(n int64) {
			if s := c.sessionPtr.Load(); s != nil {
				s.AddBytes(n)
			}
		},
		OnStreamTitle: func(title string) {
			c.post(func() { c.handleStreamTitle(title) })
		},
		OnBuffering: func(percent int) {
			c.tryPost(func() {
				if percent != c.buffering {
					c.buffering = percent
					c.notify(func(l Listener) { l.OnBufferingUpdate(percent) })
				}
			})
		},
		OnCodec: func(codec string) {
			c.post(func() {
				if c.session != nil {
					c.session.Codec = codec
				}
			})
		},
		OnError: func(err error) {
			c.post(func() { c.handleDecoderError(err) })
		},
	})
	c.router = NewOutputRouter(local, cfg.Remote)
	c.skip = NewSkipEngine(local, func(msg string) {
		c.post(func() { c.notify(func(l Listener) { l.OnSearchStatus(msg) }) })
	})

	if c.tracker != nil {
		c.tracker.SetAdvancingFunc(local.IsAdvancing)
	}

	c.wg.Add(1)
	go c.applyLoop()
	return c
}

// SetListener registers the event listener.
func (c *Controller) SetListener(l Listener) {
	c.listenerMu.Lock()
	c.listener = l
	c.listenerMu.Unlock()
}

func (c *Controller) notify(fn func(Listener)) {
	c.listenerMu.Lock()
	l := c.listener
	c.listenerMu.Unlock()
	if l != nil {
		fn(l)
	}
}

// applyLoop executes posted events one at a time. It is the only goroutine
// that touches session state.
func (c *Controller) applyLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case fn := <-c.events:
			fn()
		}
	}
}

// post queues work for the apply goroutine without waiting.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.closed:
	}
}

// do runs work on the apply goroutine and waits for its result.
func (c *Controller) do(fn func() error) error {
	result := make(chan error, 1)
	select {
	case c.events <- func() { result <- fn() }:
	case <-c.closed:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-c.closed:
		return ErrClosed
	}
}

// tryPost queues work without ever blocking. Used by high-rate callbacks
// where dropping an update is harmless.
func (c *Controller) tryPost(fn func()) {
	select {
	case c.events <- fn:
	case <-c.closed:
	default:
	}
}

// LoadStation prepares a station for playback without starting it. Any
// previous session's unflushed bytes are persisted first; all telemetry is
// reset; the metadata engine and stats tracking switch to the new station.
func (c *Controller) LoadStation(id int) error {
	return c.do(func() error {
		st, ok := c.catalog.Get(id)
		if !ok {
			return ErrUnknownStation
		}

		c.flushBytes()
		c.stopTelemetry()
		c.router.Local().Pause()

		c.session = newSession(id, c.router.Active())
		c.sessionPtr.Store(c.session)
		c.current = &st
		c.track = nil
		c.rawTitle = ""
		c.buffering = 0
		c.metaSeq++

		ctx := context.Background()
		c.router.Prepare(ctx, st.StreamURL)
		c.meta.StartMonitoring(st, c.onProviderUpdate)
		if c.tracker != nil {
			c.tracker.StartListening(id)
		}

		ProbeTransport(ctx, st.StreamURL, func(family IPFamily) {
			c.post(func() {
				if c.session == nil || c.session.StationID != id {
					return
				}
				c.session.IPFamily = family
				c.notify(func(l Listener) { l.OnIPVersionChanged(family) })
			})
		})

		c.state = StateLoaded
		c.notify(func(l Listener) { l.OnMetadataChanged(st.Name, st.LogoURL) })
		log.Info().Int("stationID", id).Str("name", st.Name).Msg("Station loaded")
		return nil
	})
}

// Play starts playback on the active sink. The first play of a session
// stamps its origin and starts the telemetry tick.
func (c *Controller) Play() error {
	return c.do(func() error {
		if c.current == nil || c.session == nil {
			return ErrNoStation
		}

		if !c.session.Active {
			c.session.start(time.Now())
			c.startTelemetry()
		}

		if err := c.router.Play(context.Background()); err != nil {
			c.notify(func(l Listener) { l.OnError(err.Error()) })
			return err
		}

		c.state = StatePlaying
		c.notify(func(l Listener) { l.OnPlaybackStateChanged(true) })
		return nil
	})
}

// Pause pauses the active sink. The session stays active and the telemetry
// tick keeps running; listening time stops accruing because the sink stops
// advancing.
func (c *Controller) Pause() error {
	return c.do(func() error {
		if c.state != StatePlaying {
			return nil
		}
		if err := c.router.Pause(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Pause on active sink failed")
		}
		c.state = StatePaused
		c.notify(func(l Listener) { l.OnPlaybackStateChanged(false) })
		return nil
	})
}

// Stop ends the session: flushes remaining bytes, cancels telemetry and
// metadata monitoring, resets all session state and clears the station.
func (c *Controller) Stop() error {
	return c.do(func() error {
		c.stopSession()
		return nil
	})
}

func (c *Controller) stopSession() {
	c.flushBytes()
	c.stopTelemetry()
	c.meta.StopMonitoring()
	if c.tracker != nil {
		c.tracker.StopListening()
	}
	c.router.Stop(context.Background())

	c.session = nil
	c.sessionPtr.Store(nil)
	c.current = nil
	c.track = nil
	c.rawTitle = ""
	c.buffering = 0
	c.metaSeq++
	c.state = StateIdle

	c.notify(func(l Listener) { l.OnPlaybackStateChanged(false) })
	log.Info().Msg("Playback stopped")
}

// Skip runs the ad-skip sequence in the background. A skip requested while
// one is running is rejected.
func (c *Controller) Skip() error {
	if c.skip.InProgress() {
		return ErrSkipInProgress
	}
	go func() {
		if err := c.skip.Skip(context.Background()); err != nil && !errors.Is(err, ErrSkipInProgress) {
			log.Warn().Err(err).Msg("Skip failed")
		}
		c.post(func() {
			c.buffering = 0
			c.notify(func(l Listener) { l.OnBufferingUpdate(0) })
		})
	}()
	return nil
}

// SetVolume sets the local output volume.
func (c *Controller) SetVolume(v float64) {
	c.router.Local().SetVolume(v)
}

// Attach re-joins stats tracking for an already-loaded station without
// counting a new tune-in.
func (c *Controller) Attach(stationID int) error {
	return c.do(func() error {
		if c.current == nil || c.current.ID != stationID {
			return ErrNoStation
		}
		if c.tracker != nil {
			c.tracker.RestoreListening(stationID)
		}
		return nil
	})
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	var st Status
	err := c.do(func() error {
		st = c.statusLocked()
		return nil
	})
	if err != nil {
		return Status{State: StateIdle, Output: OutputLocal}
	}
	return st
}

func (c *Controller) statusLocked() Status {
	s := Status{
		State:            c.state,
		Station:          c.current,
		Track:            c.track,
		BufferingPercent: c.buffering,
		Output:           c.router.Active(),
		CastDevice:       c.router.DeviceName(),
	}
	if c.current != nil {
		s.Display = c.current.Name
	}
	if c.track != nil {
		s.Display = c.track.Display()
	}
	if c.session != nil {
		s.BitrateKbps = c.session.AverageBitrateKbps
		s.Codec = c.session.Codec
		s.IPFamily = c.session.IPFamily
		s.ElapsedMs = c.session.Elapsed(time.Now()).Milliseconds()
	}
	return s
}

// Close shuts the controller down, flushing the session.
func (c *Controller) Close() {
	err := c.do(func() error {
		c.stopSession()
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return
	}
	close(c.closed)
	c.wg.Wait()
}

// Telemetry tick: once per second while the session is active, recompute
// the session-lifetime bitrate and flush due bytes to the stats store.
func (c *Controller) startTelemetry() {
	stop := make(chan struct{})
	c.tickStop = stop

	go func() {
		ticker := time.NewTicker(telemetryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.post(c.telemetryTick)
			}
		}
	}()
}

func (c *Controller) stopTelemetry() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

func (c *Controller) telemetryTick() {
	if c.session == nil || !c.session.Active {
		return
	}
	c.session.updateBitrate(time.Now())
	c.flushBytes()
}

// flushBytes persists the unflushed byte delta. Never drops a remainder:
// called from the tick, on station change, and on stop.
func (c *Controller) flushBytes() {
	if c.session == nil || c.bytes == nil {
		return
	}
	delta := c.session.unflushedBytes()
	if delta <= 0 {
		return
	}
	if err := c.bytes.AddDataConsumed(c.session.StationID, delta); err != nil {
		log.Warn().Err(err).Msg("Could not persist consumed bytes")
	}
}

// onProviderUpdate receives normalized metadata from the provider task.
func (c *Controller) onProviderUpdate(meta *metadata.TrackMetadata) {
	c.tryPost(func() {
		if meta == nil {
			return
		}
		c.applyTrack(meta)
	})
}

// applyTrack installs new track metadata, arms the display expiry, and
// fans the update out.
func (c *Controller) applyTrack(meta *metadata.TrackMetadata) {
	c.track = meta
	c.router.SetTrackMetadata(meta)

	c.metaSeq++
	seq := c.metaSeq
	time.AfterFunc(metadataDisplayTTL, func() {
		c.post(func() { c.expireTrack(seq) })
	})

	c.notify(func(l Listener) {
		l.OnTrackMetadataChanged(meta)
		l.OnMetadataChanged(meta.Display(), meta.CoverURL)
	})
}

// expireTrack reverts the display to the station name when no newer update
// arrived within the display lifetime.
func (c *Controller) expireTrack(seq uint64) {
	if seq != c.metaSeq || c.current == nil {
		return
	}
	c.track = nil
	c.router.SetTrackMetadata(nil)
	c.notify(func(l Listener) {
		l.OnTrackMetadataChanged(nil)
		l.OnMetadataChanged(c.current.Name, c.current.LogoURL)
	})
}

// handleStreamTitle processes an inline stream tag. Titles from stations
// flagged with a legacy encoding are re-decoded from Latin-1 first.
func (c *Controller) handleStreamTitle(title string) {
	if c.current == nil {
		return
	}
	if c.current.LegacyEncoding {
		title = latin1String(title)
	}
	title = strings.TrimSpace(title)
	if title == "" || title == c.rawTitle {
		return
	}
	c.rawTitle = title

	meta := &metadata.TrackMetadata{Title: title}
	artist, track, ok := splitInlineTitle(title)
	if ok {
		meta.Artist = artist
		meta.Title = track
	}
	c.applyTrack(meta)

	if ok && c.art != nil {
		go c.resolveInlineArtwork(title, artist, track)
	}
}

// resolveInlineArtwork searches cover art for an inline tag asynchronously.
// The result is applied only if the same tag is still current.
func (c *Controller) resolveInlineArtwork(rawTitle, artist, track string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coverURL, err := c.art.Search(ctx, artist, track)
	if err != nil || coverURL == "" {
		return
	}
	image := c.art.Download(ctx, coverURL)

	c.post(func() {
		// Stale guard: a newer tag may have replaced this one meanwhile.
		if c.rawTitle != rawTitle || c.track == nil {
			return
		}
		c.track.CoverURL = coverURL
		c.track.CoverImage = image
		c.router.SetTrackMetadata(c.track)
		c.notify(func(l Listener) {
			l.OnTrackMetadataChanged(c.track)
			l.OnMetadataChanged(c.track.Display(), coverURL)
		})
	})
}

// handleDecoderError surfaces a fatal decode error and stops playback. No
// automatic retry; the user reselects or replays.
func (c *Controller) handleDecoderError(err error) {
	c.notify(func(l Listener) { l.OnError(err.Error()) })
	c.flushBytes()
	c.stopTelemetry()
	if c.session != nil {
		c.session.Active = false
	}
	c.state = StateStopped
	c.notify(func(l Listener) { l.OnPlaybackStateChanged(false) })
}

// Cast listener plumbing: the cast client calls these from its read loop.

// OnCastSessionStarted implements the cast listener.
func (c *Controller) OnCastSessionStarted(deviceName string) {
	c.post(func() {
		c.router.HandleRemoteSessionStarted(context.Background())
		if c.session != nil {
			c.session.ActiveOutput = OutputRemote
		}
		c.notify(func(l Listener) { l.OnCastStateChanged(true) })
	})
}

// OnCastSessionEnded implements the cast listener.
func (c *Controller) OnCastSessionEnded() {
	c.post(func() {
		active := c.session != nil && c.session.Active && c.state == StatePlaying
		c.router.HandleRemoteSessionEnded(context.Background(), active)
		if c.session != nil {
			c.session.ActiveOutput = OutputLocal
		}
		c.notify(func(l Listener) { l.OnCastStateChanged(false) })
	})
}

// splitInlineTitle splits an "Artist - Title" inline tag on the first
// separator. Both halves must be non-empty.
func splitInlineTitle(title string) (artist, track string, ok bool) {
	left, right, found := strings.Cut(title, " - ")
	if !found {
		return "", "", false
	}
	artist = strings.TrimSpace(left)
	track = strings.TrimSpace(right)
	if artist == "" || track == "" {
		return "", "", false
	}
	return artist, track, true
}

// latin1String reinterprets a title whose bytes are Latin-1, not UTF-8.
// Some legacy stations still tag that way.
func latin1String(s string) string {
	b := []byte(s)
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}
