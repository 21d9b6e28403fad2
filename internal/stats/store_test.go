package stats

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "stats.db"))
	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreCountersStartAtZero(t *testing.T) {
	s := openTestStore(t)

	for name, get := range map[string]func(int) (int64, error){
		"play count":     s.GetPlayCount,
		"listening time": s.GetListeningTime,
		"data consumed":  s.GetDataConsumed,
	} {
		n, err := get(42)
		if err != nil {
			t.Errorf("%s read error = %v", name, err)
		}
		if n != 0 {
			t.Errorf("%s = %d for unknown station, want 0", name, n)
		}
	}
}

func TestStoreIncrementPlayCount(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.IncrementPlayCount(1); err != nil {
			t.Fatalf("IncrementPlayCount() error = %v", err)
		}
	}
	if err := s.IncrementPlayCount(2); err != nil {
		t.Fatalf("IncrementPlayCount() error = %v", err)
	}

	if n, _ := s.GetPlayCount(1); n != 3 {
		t.Errorf("GetPlayCount(1) = %d, want 3", n)
	}
	if n, _ := s.GetPlayCount(2); n != 1 {
		t.Errorf("GetPlayCount(2) = %d, want 1", n)
	}
}

func TestStoreAccumulatesCounters(t *testing.T) {
	s := openTestStore(t)

	if err := s.AddListeningTime(1, 1500); err != nil {
		t.Fatal(err)
	}
	if err := s.AddListeningTime(1, 500); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDataConsumed(1, 1024); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDataConsumed(1, 4096); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.GetListeningTime(1); n != 2000 {
		t.Errorf("GetListeningTime = %d, want 2000", n)
	}
	if n, _ := s.GetDataConsumed(1); n != 5120 {
		t.Errorf("GetDataConsumed = %d, want 5120", n)
	}
}

func TestStoreIgnoresNonPositiveDeltas(t *testing.T) {
	s := openTestStore(t)

	if err := s.AddListeningTime(1, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.AddListeningTime(1, -100); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDataConsumed(1, -1); err != nil {
		t.Fatal(err)
	}

	if n, _ := s.GetListeningTime(1); n != 0 {
		t.Errorf("GetListeningTime = %d, want 0", n)
	}
	if n, _ := s.GetDataConsumed(1); n != 0 {
		t.Errorf("GetDataConsumed = %d, want 0", n)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	s := NewStore(path)
	if err := s.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.IncrementPlayCount(7); err != nil {
		t.Fatal(err)
	}
	if err := s.AddDataConsumed(7, 999); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2 := NewStore(path)
	if err := s2.Open(); err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()

	if n, _ := s2.GetPlayCount(7); n != 1 {
		t.Errorf("GetPlayCount after reopen = %d, want 1", n)
	}
	if n, _ := s2.GetDataConsumed(7); n != 999 {
		t.Errorf("GetDataConsumed after reopen = %d, want 999", n)
	}
}

func TestStoreClosedErrors(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "stats.db"))

	if err := s.IncrementPlayCount(1); err == nil {
		t.Error("expected error writing to unopened store")
	}
	if _, err := s.GetPlayCount(1); err == nil {
		t.Error("expected error reading from unopened store")
	}
}
