// Package socketio provides the Socket.io surface for UI clients.
package socketio

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/ltn22/RadioApp/internal/metadata"
	"github.com/ltn22/RadioApp/internal/player"
	"github.com/ltn22/RadioApp/internal/station"
	"github.com/ltn22/RadioApp/internal/stats"
)

const (
	maxExternalClients = 4
	broadcastWindow    = 100 * time.Millisecond
)

// PlayerControl is the slice of the playback controller the transport
// drives.
type PlayerControl interface {
	LoadStation(id int) error
	Play() error
	Pause() error
	Stop() error
	Skip() error
	SetVolume(v float64)
	Status() player.Status
}

// StatsReader reads persisted usage counters.
type StatsReader interface {
	GetPlayCount(stationID int) (int64, error)
	GetListeningTime(stationID int) (int64, error)
	GetDataConsumed(stationID int) (int64, error)
}

// Server handles Socket.io connections and events. It also implements the
// controller's Listener so playback events reach every client.
type Server struct {
	io      *socket.Server
	control PlayerControl
	catalog *station.Catalog
	stats   StatsReader

	limiter  *ConnectionLimiter
	debounce *BroadcastDebouncer

	mu        sync.RWMutex
	clients   map[string]*socket.Socket
	lastState map[string]any
}

// NewServer creates a new Socket.io server.
func NewServer(control PlayerControl, catalog *station.Catalog, statsReader StatsReader) (*Server, error) {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	server := socket.NewServer(nil, opts)

	s := &Server{
		io:      server,
		control: control,
		catalog: catalog,
		stats:   statsReader,
		limiter: NewConnectionLimiter(maxExternalClients),
		clients: make(map[string]*socket.Socket),
	}
	s.debounce = NewBroadcastDebouncer(broadcastWindow, s.BroadcastState, s.BroadcastStations)

	s.setupHandlers()

	return s, nil
}

// setupHandlers registers all Socket.io event handlers.
func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		remoteIP := ""
		if client.Handshake() != nil {
			remoteIP = client.Handshake().Address
		}

		_, evicted := s.limiter.TryAdd(clientID, remoteIP)
		if evicted != "" {
			s.disconnectClient(evicted)
		}

		log.Info().Str("id", clientID).Str("ip", remoteIP).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
			s.pushStations(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.limiter.Remove(clientID)
			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("getStations", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getStations")
			s.pushStations(client)
		})

		client.On("getStats", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getStats")
			client.Emit("pushStats", s.statsPayload())
		})

		client.On("loadStation", func(args ...any) {
			id, ok := intArg(args, "id")
			if !ok {
				log.Warn().Str("id", clientID).Msg("loadStation without station id")
				return
			}
			log.Debug().Str("id", clientID).Int("stationID", id).Msg("loadStation")
			if err := s.control.LoadStation(id); err != nil {
				log.Error().Err(err).Int("stationID", id).Msg("LoadStation failed")
				client.Emit("pushError", err.Error())
			}
		})

		client.On("play", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("play")
			if err := s.control.Play(); err != nil {
				log.Error().Err(err).Msg("Play failed")
				client.Emit("pushError", err.Error())
			}
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			if err := s.control.Pause(); err != nil {
				log.Error().Err(err).Msg("Pause failed")
			}
		})

		client.On("stop", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("stop")
			if err := s.control.Stop(); err != nil {
				log.Error().Err(err).Msg("Stop failed")
			}
		})

		client.On("skip", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("skip")
			if err := s.control.Skip(); err != nil {
				log.Warn().Err(err).Msg("Skip rejected")
				client.Emit("pushSearchStatus", err.Error())
			}
		})

		client.On("setVolume", func(args ...any) {
			if len(args) == 0 {
				return
			}
			if vol, ok := args[0].(float64); ok {
				log.Debug().Str("id", clientID).Float64("vol", vol).Msg("setVolume")
				s.control.SetVolume(vol / 100)
			}
		})
	})
}

// intArg extracts an integer field from an event's first map argument.
func intArg(args []any, key string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	m, ok := args[0].(map[string]interface{})
	if !ok {
		return 0, false
	}
	v, ok := m[key].(float64)
	if !ok {
		return 0, false
	}
	return int(v), true
}

func (s *Server) disconnectClient(clientID string) {
	s.mu.RLock()
	client := s.clients[clientID]
	s.mu.RUnlock()
	if client == nil {
		return
	}
	log.Info().Str("id", clientID).Msg("Evicting oldest external client")
	client.Disconnect(true)
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.stateMap())
}

// pushStations sends the catalog, most-listened first, to a client.
func (s *Server) pushStations(client *socket.Socket) {
	client.Emit("pushStations", s.stationsPayload())
}

// stateMap flattens the controller status for the wire.
func (s *Server) stateMap() map[string]any {
	st := s.control.Status()
	m := map[string]any{
		"state":       string(st.State),
		"display":     st.Display,
		"bitrateKbps": st.BitrateKbps,
		"codec":       st.Codec,
		"ipFamily":    string(st.IPFamily),
		"buffering":   st.BufferingPercent,
		"output":      string(st.Output),
		"elapsedMs":   st.ElapsedMs,
		"castDevice":  st.CastDevice,
	}
	if st.Station != nil {
		m["stationId"] = st.Station.ID
		m["stationName"] = st.Station.Name
		m["logoUrl"] = st.Station.LogoURL
	}
	if st.Track != nil {
		m["artist"] = st.Track.Artist
		m["title"] = st.Track.Title
		m["album"] = st.Track.Album
		m["coverUrl"] = st.Track.CoverURL
	}
	return m
}

func (s *Server) stationsPayload() []map[string]any {
	ordered := s.catalog.All()
	if s.stats != nil {
		ordered = s.catalog.SortedByPlayCount(s.stats)
	}

	out := make([]map[string]any, 0, len(ordered))
	for _, st := range ordered {
		entry := map[string]any{
			"id":      st.ID,
			"name":    st.Name,
			"genre":   st.Genre,
			"logoUrl": st.LogoURL,
		}
		if s.stats != nil {
			if count, err := s.stats.GetPlayCount(st.ID); err == nil {
				entry["playCount"] = count
			}
		}
		out = append(out, entry)
	}
	return out
}

func (s *Server) statsPayload() []map[string]any {
	out := make([]map[string]any, 0, s.catalog.Len())
	for _, st := range s.catalog.All() {
		entry := map[string]any{"id": st.ID, "name": st.Name}
		if s.stats == nil {
			out = append(out, entry)
			continue
		}
		if count, err := s.stats.GetPlayCount(st.ID); err == nil {
			entry["playCount"] = count
		}
		if ms, err := s.stats.GetListeningTime(st.ID); err == nil {
			entry["listeningTimeMs"] = ms
			entry["listeningTime"] = stats.FormatListeningTime(ms)
		}
		if bytes, err := s.stats.GetDataConsumed(st.ID); err == nil {
			entry["dataConsumedBytes"] = bytes
			entry["dataConsumed"] = stats.FormatDataSize(bytes)
		}
		out = append(out, entry)
	}
	return out
}

// BroadcastState sends state to all connected clients, suppressing
// broadcasts where nothing the UI renders has changed.
func (s *Server) BroadcastState() {
	state := s.stateMap()
	if s.isStateSame(state) {
		return
	}
	s.saveLastState(state)

	s.io.Emit("pushState", state)

	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()
	log.Debug().Int("clients", clientCount).Msg("Broadcast state")
}

// BroadcastStations sends the station list to all connected clients. Play
// counts change on tune-in, so the ordering can shift.
func (s *Server) BroadcastStations() {
	s.io.Emit("pushStations", s.stationsPayload())
}

// Controller listener plumbing. Callbacks arrive on the controller's apply
// goroutine; broadcast work is debounced or fire-and-forget.

// OnPlaybackStateChanged implements the controller listener.
func (s *Server) OnPlaybackStateChanged(bool) {
	s.debounce.TriggerState()
	s.debounce.TriggerStations()
}

// OnBufferingUpdate implements the controller listener.
func (s *Server) OnBufferingUpdate(percent int) {
	s.io.Emit("pushBuffering", percent)
}

// OnError implements the controller listener.
func (s *Server) OnError(message string) {
	s.io.Emit("pushError", message)
	s.debounce.TriggerState()
}

// OnMetadataChanged implements the controller listener.
func (s *Server) OnMetadataChanged(title, coverURL string) {
	s.io.Emit("pushDisplay", map[string]any{"display": title, "coverUrl": coverURL})
	s.debounce.TriggerState()
}

// OnTrackMetadataChanged implements the controller listener. Cover bytes
// stay server-side; clients fetch covers by URL.
func (s *Server) OnTrackMetadataChanged(meta *metadata.TrackMetadata) {
	if meta == nil {
		s.io.Emit("pushTrack", nil)
		return
	}
	s.io.Emit("pushTrack", map[string]any{
		"title":      meta.Title,
		"artist":     meta.Artist,
		"album":      meta.Album,
		"coverUrl":   meta.CoverURL,
		"programUrl": meta.ProgramURL,
	})
}

// OnIPVersionChanged implements the controller listener.
func (s *Server) OnIPVersionChanged(family player.IPFamily) {
	s.io.Emit("pushIpFamily", string(family))
	s.debounce.TriggerState()
}

// OnCastStateChanged implements the controller listener.
func (s *Server) OnCastStateChanged(connected bool) {
	s.io.Emit("pushCastState", connected)
	s.debounce.TriggerState()
}

// OnSearchStatus implements the controller listener.
func (s *Server) OnSearchStatus(message string) {
	s.io.Emit("pushSearchStatus", message)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debounce.Stop()
	s.io.Close(nil)
	return nil
}
