package player

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ltn22/RadioApp/internal/metadata"
)

// RemoteSink is the remote rendering receiver as the router sees it.
// Satisfied by the cast client.
type RemoteSink interface {
	Load(ctx context.Context, streamURL string, meta *metadata.TrackMetadata) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Connected() bool
	DeviceName() string
}

// OutputRouter mediates between the local sink and a remote receiver.
// Exactly one of the two is active. The router never probes the remote
// side; it only reacts to session events fed in by its owner.
type OutputRouter struct {
	local  *LocalSink
	remote RemoteSink

	mu        sync.Mutex
	active    OutputKind
	streamURL string
	lastMeta  *metadata.TrackMetadata
}

// NewOutputRouter creates a router. remote may be nil for local-only
// operation.
func NewOutputRouter(local *LocalSink, remote RemoteSink) *OutputRouter {
	return &OutputRouter{
		local:  local,
		remote: remote,
		active: OutputLocal,
	}
}

// Active returns the currently selected sink.
func (r *OutputRouter) Active() OutputKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Prepare primes the sinks with a new stream. Local decode is prepared
// eagerly; when a remote session is attached the new source is pushed there
// as well.
func (r *OutputRouter) Prepare(ctx context.Context, streamURL string) {
	r.mu.Lock()
	r.streamURL = streamURL
	r.lastMeta = nil
	remote := r.remote
	active := r.active
	r.mu.Unlock()

	r.local.Prepare(streamURL)

	if active == OutputRemote && remote != nil && remote.Connected() {
		if err := remote.Load(ctx, streamURL, nil); err != nil {
			log.Warn().Err(err).Msg("Could not push new station to cast receiver")
		}
	}
}

// SetTrackMetadata remembers the latest track so a remote session started
// later can show it.
func (r *OutputRouter) SetTrackMetadata(meta *metadata.TrackMetadata) {
	r.mu.Lock()
	r.lastMeta = meta
	r.mu.Unlock()
}

// Play starts playback on the active sink.
func (r *OutputRouter) Play(ctx context.Context) error {
	if r.Active() == OutputRemote {
		return r.remote.Play(ctx)
	}
	return r.local.Play(ctx)
}

// Pause pauses the active sink.
func (r *OutputRouter) Pause(ctx context.Context) error {
	if r.Active() == OutputRemote {
		return r.remote.Pause(ctx)
	}
	r.local.Pause()
	return nil
}

// Stop stops both sinks.
func (r *OutputRouter) Stop(ctx context.Context) {
	r.local.Stop()

	r.mu.Lock()
	remote := r.remote
	active := r.active
	r.streamURL = ""
	r.lastMeta = nil
	r.mu.Unlock()

	if active == OutputRemote && remote != nil && remote.Connected() {
		if err := remote.Stop(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not stop cast receiver")
		}
	}
}

// DeviceName returns the remote device name while a remote session is
// active, empty otherwise.
func (r *OutputRouter) DeviceName() string {
	r.mu.Lock()
	remote := r.remote
	active := r.active
	r.mu.Unlock()

	if active != OutputRemote || remote == nil {
		return ""
	}
	return remote.DeviceName()
}

// Local exposes the local sink for telemetry and skip control.
func (r *OutputRouter) Local() *LocalSink {
	return r.local
}

// HandleRemoteSessionStarted moves output to the remote sink: pauses local
// decode when it was advancing, loads the current stream plus the last
// known track onto the receiver.
func (r *OutputRouter) HandleRemoteSessionStarted(ctx context.Context) {
	r.mu.Lock()
	streamURL := r.streamURL
	meta := r.lastMeta
	remote := r.remote
	r.active = OutputRemote
	r.mu.Unlock()

	if r.local.IsAdvancing() || r.local.IsPlaying() {
		r.local.Pause()
	}

	if remote == nil || streamURL == "" {
		return
	}
	if err := remote.Load(ctx, streamURL, meta); err != nil {
		log.Warn().Err(err).Msg("Could not load stream on cast receiver")
		return
	}
	log.Info().Str("device", remote.DeviceName()).Msg("Playback moved to cast receiver")
}

// HandleRemoteSessionEnded moves output back to the local sink, resuming
// local decode only when the playback session is still live.
func (r *OutputRouter) HandleRemoteSessionEnded(ctx context.Context, sessionActive bool) {
	r.mu.Lock()
	r.active = OutputLocal
	r.mu.Unlock()

	if !sessionActive {
		return
	}
	if err := r.local.Play(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not resume local playback after cast session")
		return
	}
	log.Info().Msg("Playback moved back to local output")
}
