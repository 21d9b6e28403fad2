// Package player owns the playback session state machine, its telemetry,
// and the routing between local and remote output sinks.
package player

import (
	"sync/atomic"
	"time"
)

// OutputKind identifies the active playback sink.
type OutputKind string

const (
	OutputLocal  OutputKind = "local"
	OutputRemote OutputKind = "remote"
)

// IPFamily classifies the transport of the active stream connection.
type IPFamily string

const (
	IPFamilyUnknown IPFamily = ""
	IPFamilyV4      IPFamily = "IPv4"
	IPFamilyV6      IPFamily = "IPv6"
)

// State is the controller's playback state.
type State string

const (
	StateIdle    State = "idle"
	StateLoaded  State = "loaded"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Session holds the telemetry of one playback interval, from loadStation
// through stop. Byte counts arrive from the stream reader goroutine, so the
// total lives in an atomic; everything else is owned by the controller's
// apply goroutine.
type Session struct {
	StationID int
	StartTime time.Time
	Active    bool

	totalBytes atomic.Int64

	// lastFlushed tracks the byte count already handed to the stats store.
	lastFlushed int64

	// The bitrate window origin is the session start, so the reported
	// figure is a session-lifetime average, not a rolling one.
	bitrateOrigin      time.Time
	bitrateOriginBytes int64

	AverageBitrateKbps int
	IPFamily           IPFamily
	Codec              string
	ActiveOutput       OutputKind
}

// newSession returns a zeroed session for a station.
func newSession(stationID int, output OutputKind) *Session {
	return &Session{
		StationID:    stationID,
		ActiveOutput: output,
	}
}

// AddBytes folds a byte-count callback from the reader into the session.
// Safe to call from any goroutine.
func (s *Session) AddBytes(n int64) {
	s.totalBytes.Add(n)
}

// TotalBytes returns the bytes received so far.
func (s *Session) TotalBytes() int64 {
	return s.totalBytes.Load()
}

// start stamps the session origin. Called once, on the first play.
func (s *Session) start(now time.Time) {
	s.StartTime = now
	s.Active = true
	s.bitrateOrigin = now
	s.bitrateOriginBytes = s.totalBytes.Load()
}

// updateBitrate recomputes the session-lifetime average bitrate in kbps.
func (s *Session) updateBitrate(now time.Time) {
	if !s.Active {
		return
	}
	elapsedMs := now.Sub(s.bitrateOrigin).Milliseconds()
	if elapsedMs <= 0 {
		return
	}
	bytes := s.totalBytes.Load() - s.bitrateOriginBytes
	s.AverageBitrateKbps = int(8 * bytes / elapsedMs)
}

// unflushedBytes returns the byte count not yet persisted and advances the
// flush marker.
func (s *Session) unflushedBytes() int64 {
	total := s.totalBytes.Load()
	delta := total - s.lastFlushed
	s.lastFlushed = total
	return delta
}

// Elapsed returns the time since the session started, zero when inactive.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if !s.Active {
		return 0
	}
	return now.Sub(s.StartTime)
}
