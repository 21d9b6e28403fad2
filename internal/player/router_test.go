package player

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ltn22/RadioApp/internal/metadata"
)

// fakeRemote records cast commands.
type fakeRemote struct {
	mu        sync.Mutex
	connected bool
	loads     []string
	loadMeta  []*metadata.TrackMetadata
	plays     int
	pauses    int
	stops     int
}

func (f *fakeRemote) Load(_ context.Context, url string, meta *metadata.TrackMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	f.loadMeta = append(f.loadMeta, meta)
	return nil
}

func (f *fakeRemote) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return nil
}

func (f *fakeRemote) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeRemote) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRemote) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRemote) DeviceName() string { return "Test Device" }

func (f *fakeRemote) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func TestRouter_RemoteSessionStartedMovesOutput(t *testing.T) {
	server := httptest.NewServer(icyHandler(128, "A - B"))
	defer server.Close()

	remote := &fakeRemote{}
	router := NewOutputRouter(NewLocalSink(SinkEvents{}), remote)

	router.Prepare(context.Background(), server.URL)
	if err := router.Play(context.Background()); err != nil {
		t.Fatalf("local play: %v", err)
	}
	defer router.Stop(context.Background())

	track := &metadata.TrackMetadata{Title: "B", Artist: "A"}
	router.SetTrackMetadata(track)

	remote.setConnected(true)
	router.HandleRemoteSessionStarted(context.Background())

	if router.Active() != OutputRemote {
		t.Errorf("active = %v, want remote", router.Active())
	}
	if router.Local().IsPlaying() {
		t.Error("local sink still playing after handoff")
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.loads) != 1 || remote.loads[0] != server.URL {
		t.Fatalf("remote loads = %v", remote.loads)
	}
	if remote.loadMeta[0] == nil || remote.loadMeta[0].Title != "B" {
		t.Errorf("remote load lacked track metadata: %+v", remote.loadMeta[0])
	}
}

func TestRouter_RemoteSessionEndedResumesLocalWhenActive(t *testing.T) {
	server := httptest.NewServer(icyHandler(128, "A - B"))
	defer server.Close()

	remote := &fakeRemote{}
	router := NewOutputRouter(NewLocalSink(SinkEvents{}), remote)
	router.Prepare(context.Background(), server.URL)

	remote.setConnected(true)
	router.HandleRemoteSessionStarted(context.Background())

	router.HandleRemoteSessionEnded(context.Background(), true)
	defer router.Stop(context.Background())

	if router.Active() != OutputLocal {
		t.Errorf("active = %v, want local", router.Active())
	}
	if !router.Local().IsPlaying() {
		t.Error("local sink did not resume")
	}
}

func TestRouter_RemoteSessionEndedStaysIdleWhenInactive(t *testing.T) {
	remote := &fakeRemote{}
	router := NewOutputRouter(NewLocalSink(SinkEvents{}), remote)

	remote.setConnected(true)
	router.HandleRemoteSessionStarted(context.Background())
	router.HandleRemoteSessionEnded(context.Background(), false)

	if router.Active() != OutputLocal {
		t.Errorf("active = %v, want local", router.Active())
	}
	if router.Local().IsPlaying() {
		t.Error("local sink resumed for an inactive session")
	}
}

func TestRouter_PrepareWhileRemotePushesNewSource(t *testing.T) {
	remote := &fakeRemote{}
	router := NewOutputRouter(NewLocalSink(SinkEvents{}), remote)

	remote.setConnected(true)
	router.HandleRemoteSessionStarted(context.Background())

	router.Prepare(context.Background(), "http://stream.example.com/other")

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.loads) != 1 || remote.loads[0] != "http://stream.example.com/other" {
		t.Errorf("remote loads = %v, want the new source pushed", remote.loads)
	}
}

func TestRouter_PlayRoutesToActiveSink(t *testing.T) {
	remote := &fakeRemote{}
	router := NewOutputRouter(NewLocalSink(SinkEvents{}), remote)

	remote.setConnected(true)
	router.HandleRemoteSessionStarted(context.Background())

	if err := router.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := router.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if remote.plays != 1 || remote.pauses != 1 {
		t.Errorf("remote plays/pauses = %d/%d, want 1/1", remote.plays, remote.pauses)
	}
}
