package socketio

// stateCompareKeys are the state fields that trigger a rebroadcast when
// they change. elapsedMs and buffering are excluded: elapsed time drifts
// every read and clients interpolate it, and buffering has its own push
// event.
var stateCompareKeys = []string{
	"state",
	"stationId",
	"stationName",
	"display",
	"artist",
	"title",
	"album",
	"coverUrl",
	"bitrateKbps",
	"codec",
	"ipFamily",
	"output",
	"castDevice",
}

// saveLastState remembers the last broadcast state for diffing.
func (s *Server) saveLastState(state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastState = state
}

// isStateSame reports whether the state matches the last broadcast on
// every compared key.
func (s *Server) isStateSame(state map[string]any) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastState == nil {
		return false
	}
	for _, key := range stateCompareKeys {
		if s.lastState[key] != state[key] {
			return false
		}
	}
	return true
}
