package player

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Common errors
var (
	// ErrSkipInProgress indicates a skip sequence is already running
	ErrSkipInProgress = errors.New("skip already in progress")
)

const (
	// skipSpeedFactor x skipDuration of source content is consumed per
	// skip: 8x for 2s clears 16s of buffered filler.
	skipSpeedFactor = 8.0
	skipDuration    = 2 * time.Second
)

// audioControls is the slice of the local sink the skip engine touches.
type audioControls interface {
	Volume() float64
	SetVolume(v float64)
	Speed() float64
	SetSpeed(speed float64)
	ResetBuffering()
}

// SkipEngine consumes buffered filler audio by muting and running playback
// at high speed for a fixed window. Single-flight: a skip requested while
// one runs is rejected.
type SkipEngine struct {
	controls audioControls
	onStatus func(message string)
	busy     atomic.Bool

	// wait is injectable so tests do not sleep for real.
	wait func(ctx context.Context, d time.Duration) error
}

// NewSkipEngine creates a skip engine over the given controls. onStatus may
// be nil.
func NewSkipEngine(controls audioControls, onStatus func(string)) *SkipEngine {
	return &SkipEngine{
		controls: controls,
		onStatus: onStatus,
		wait:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Skip runs one time-compression sequence. Volume and speed are restored,
// speed first, in all outcomes.
func (e *SkipEngine) Skip(ctx context.Context) error {
	if !e.busy.CompareAndSwap(false, true) {
		e.status("Skip already running")
		return ErrSkipInProgress
	}
	defer e.busy.Store(false)

	savedVolume := e.controls.Volume()
	savedSpeed := e.controls.Speed()

	defer func() {
		e.controls.SetSpeed(savedSpeed)
		e.controls.SetVolume(savedVolume)
	}()

	log.Info().
		Float64("factor", skipSpeedFactor).
		Dur("window", skipDuration).
		Msg("Skip started")
	e.status("Fast-forwarding through break")

	e.controls.SetVolume(0)
	e.controls.SetSpeed(skipSpeedFactor)

	if err := e.wait(ctx, skipDuration); err != nil {
		e.status("Skip aborted")
		return err
	}

	e.controls.ResetBuffering()
	e.status("Skip complete")
	log.Info().Msg("Skip finished")
	return nil
}

// InProgress reports whether a skip sequence is running.
func (e *SkipEngine) InProgress() bool {
	return e.busy.Load()
}

func (e *SkipEngine) status(message string) {
	if e.onStatus != nil {
		e.onStatus(message)
	}
}
