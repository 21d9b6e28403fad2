package player

import (
	"testing"
	"time"
)

func TestSessionBitrateIsSessionLifetimeAverage(t *testing.T) {
	s := newSession(1, OutputLocal)
	origin := time.Now()
	s.start(origin)

	// 40000 bytes over 2s = 160 kbps.
	s.AddBytes(40000)
	s.updateBitrate(origin.Add(2 * time.Second))
	if s.AverageBitrateKbps != 160 {
		t.Errorf("AverageBitrateKbps = %d, want 160", s.AverageBitrateKbps)
	}

	// Another 2s with no bytes halves the lifetime average.
	s.updateBitrate(origin.Add(4 * time.Second))
	if s.AverageBitrateKbps != 80 {
		t.Errorf("AverageBitrateKbps = %d, want 80", s.AverageBitrateKbps)
	}
}

func TestSessionBitrateSubMillisecondElapsed(t *testing.T) {
	s := newSession(1, OutputLocal)
	origin := time.Now()
	s.start(origin)
	s.AddBytes(40000)

	// Less than a millisecond since the origin rounds to 0ms and must not
	// divide; the previous figure stands.
	s.updateBitrate(origin.Add(500 * time.Microsecond))
	if s.AverageBitrateKbps != 0 {
		t.Errorf("AverageBitrateKbps = %d, want 0", s.AverageBitrateKbps)
	}
}

func TestSessionBitrateInactive(t *testing.T) {
	s := newSession(1, OutputLocal)
	s.AddBytes(100000)
	s.updateBitrate(time.Now())
	if s.AverageBitrateKbps != 0 {
		t.Errorf("AverageBitrateKbps = %d for inactive session", s.AverageBitrateKbps)
	}
}

func TestSessionUnflushedBytes(t *testing.T) {
	s := newSession(1, OutputLocal)

	s.AddBytes(500)
	if got := s.unflushedBytes(); got != 500 {
		t.Errorf("first flush = %d, want 500", got)
	}
	if got := s.unflushedBytes(); got != 0 {
		t.Errorf("flush with no new bytes = %d, want 0", got)
	}
	s.AddBytes(300)
	if got := s.unflushedBytes(); got != 300 {
		t.Errorf("second flush = %d, want 300", got)
	}
}

func TestSessionElapsed(t *testing.T) {
	s := newSession(1, OutputLocal)
	if s.Elapsed(time.Now()) != 0 {
		t.Error("inactive session reports elapsed time")
	}

	origin := time.Now()
	s.start(origin)
	if got := s.Elapsed(origin.Add(90 * time.Second)); got != 90*time.Second {
		t.Errorf("Elapsed = %v, want 90s", got)
	}
}
