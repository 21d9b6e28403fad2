package socketio

import (
	"sync"
	"time"
)

// BroadcastDebouncer collapses rapid controller events into batched
// broadcasts. Several events inside the window result in at most one state
// broadcast and one station-list broadcast.
type BroadcastDebouncer struct {
	window           time.Duration
	stateCallback    func()
	stationsCallback func()

	mu              sync.Mutex
	pendingState    bool
	pendingStations bool
	timer           *time.Timer
	stopped         bool
}

// NewBroadcastDebouncer creates a debouncer with the given window.
func NewBroadcastDebouncer(window time.Duration, stateCallback, stationsCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:           window,
		stateCallback:    stateCallback,
		stationsCallback: stationsCallback,
	}
}

// TriggerState marks the playback state as dirty.
func (d *BroadcastDebouncer) TriggerState() {
	d.trigger(func() { d.pendingState = true })
}

// TriggerStations marks the station list as dirty.
func (d *BroadcastDebouncer) TriggerStations() {
	d.trigger(func() { d.pendingStations = true })
}

func (d *BroadcastDebouncer) trigger(mark func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	mark()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	doState := d.pendingState
	doStations := d.pendingStations
	d.pendingState = false
	d.pendingStations = false
	d.mu.Unlock()

	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
	if doStations && d.stationsCallback != nil {
		d.stationsCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingStations = false
}
