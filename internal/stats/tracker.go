package stats

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// accrualInterval is how often confirmed listening time is flushed to the store.
const accrualInterval = time.Second

// Tracker accrues listening time for the station currently playing.
// Play counts increment only on a genuine new tune-in, never on resume
// or restore. Accrual consults an injected predicate so buffering
// periods do not count as listening.
type Tracker struct {
	store *Store

	mu          sync.Mutex
	stationID   int
	hasStation  bool
	tracking    bool
	anchor      time.Time
	stopCh      chan struct{}
	isAdvancing func() bool
}

// NewTracker creates a tracker backed by the given store.
func NewTracker(store *Store) *Tracker {
	return &Tracker{store: store}
}

// SetAdvancingFunc installs the predicate consulted on each accrual tick.
// When nil, every tick counts as genuine playback.
func (t *Tracker) SetAdvancingFunc(fn func() bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isAdvancing = fn
}

// StartListening begins accrual for a station, incrementing its play count
// only when the station differs from the one currently tracked.
func (t *Tracker) StartListening(stationID int) {
	t.mu.Lock()
	newStation := !t.hasStation || t.stationID != stationID
	t.mu.Unlock()

	if newStation {
		if err := t.store.IncrementPlayCount(stationID); err != nil {
			log.Warn().Err(err).Int("stationID", stationID).Msg("Failed to increment play count")
		}
	}

	t.begin(stationID)
}

// RestoreListening resumes accrual for a station without touching its play
// count, used when re-attaching to an already-playing session. It is a no-op
// if the tracker is already tracking that station.
func (t *Tracker) RestoreListening(stationID int) {
	t.mu.Lock()
	if t.tracking && t.stationID == stationID {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.begin(stationID)
}

// PauseListening flushes the elapsed slice and stops accrual, keeping the
// tracked station so a later StartListening on it does not count a new play.
func (t *Tracker) PauseListening() {
	t.flushAndStop(false)
}

// StopListening flushes the elapsed slice, stops accrual, and clears the
// tracked station. Calling it while not listening is a no-op.
func (t *Tracker) StopListening() {
	t.flushAndStop(true)
}

// IsListening reports whether accrual is active.
func (t *Tracker) IsListening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

func (t *Tracker) begin(stationID int) {
	t.mu.Lock()
	if t.stopCh != nil {
		close(t.stopCh)
	}
	t.stationID = stationID
	t.hasStation = true
	t.tracking = true
	t.anchor = time.Now()
	stopCh := make(chan struct{})
	t.stopCh = stopCh
	t.mu.Unlock()

	go t.accrualLoop(stationID, stopCh)
}

func (t *Tracker) accrualLoop(stationID int, stopCh chan struct{}) {
	ticker := time.NewTicker(accrualInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.accrueTick(stationID)
		}
	}
}

// accrueTick adds the elapsed slice since the last anchor when the player is
// genuinely advancing, and re-anchors either way so buffering time is skipped
// rather than deferred.
func (t *Tracker) accrueTick(stationID int) {
	t.mu.Lock()
	if !t.tracking || t.stationID != stationID {
		t.mu.Unlock()
		return
	}
	advancing := true
	if t.isAdvancing != nil {
		advancing = t.isAdvancing()
	}
	elapsed := time.Since(t.anchor)
	t.anchor = time.Now()
	t.mu.Unlock()

	if !advancing {
		return
	}

	if err := t.store.AddListeningTime(stationID, elapsed.Milliseconds()); err != nil {
		log.Warn().Err(err).Int("stationID", stationID).Msg("Failed to accrue listening time")
	}
}

func (t *Tracker) flushAndStop(clearStation bool) {
	t.mu.Lock()
	if !t.tracking {
		if clearStation {
			t.stationID = 0
			t.hasStation = false
		}
		t.mu.Unlock()
		return
	}
	stationID := t.stationID
	elapsed := time.Since(t.anchor)
	advancing := true
	if t.isAdvancing != nil {
		advancing = t.isAdvancing()
	}
	t.tracking = false
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	if clearStation {
		t.stationID = 0
		t.hasStation = false
	}
	t.mu.Unlock()

	if advancing {
		if err := t.store.AddListeningTime(stationID, elapsed.Milliseconds()); err != nil {
			log.Warn().Err(err).Int("stationID", stationID).Msg("Failed to flush listening time")
		}
	}
}
