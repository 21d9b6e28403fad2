package cast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/ltn22/RadioApp/internal/metadata"
)

func TestContentTypeForURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"hls playlist", "http://stream.example.com/live/master.m3u8", "application/x-mpegURL"},
		{"hls with query", "http://stream.example.com/live/master.M3U8?token=x", "application/x-mpegURL"},
		{"aac stream", "http://stream.example.com/radio.aac", "audio/aac"},
		{"mp3 stream", "http://stream.example.com/radio.mp3", "audio/mpeg"},
		{"extensionless", "http://stream.example.com/live", "audio/mpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentTypeForURL(tt.url); got != tt.want {
				t.Errorf("ContentTypeForURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

type recordedListener struct {
	started chan string
	ended   chan struct{}
}

func newRecordedListener() *recordedListener {
	return &recordedListener{
		started: make(chan string, 1),
		ended:   make(chan struct{}, 1),
	}
}

func (l *recordedListener) OnCastSessionStarted(device string) { l.started <- device }
func (l *recordedListener) OnCastSessionEnded()                { l.ended <- struct{}{} }

// castReceiver is a stub receiver: it records inbound commands and lets the
// test inject events.
type castReceiver struct {
	commands chan map[string]any
	events   chan string
}

func newCastReceiver() *castReceiver {
	return &castReceiver{
		commands: make(chan map[string]any, 8),
		events:   make(chan string, 8),
	}
}

func (cr *castReceiver) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(ws.StatusNormalClosure, "")

		go func() {
			for {
				_, data, err := conn.Read(r.Context())
				if err != nil {
					return
				}
				var cmd map[string]any
				if json.Unmarshal(data, &cmd) == nil {
					cr.commands <- cmd
				}
			}
		}()

		for ev := range cr.events {
			if err := conn.Write(r.Context(), ws.MessageText, []byte(ev)); err != nil {
				return
			}
		}
	}
}

func TestClient_SessionLifecycle(t *testing.T) {
	receiver := newCastReceiver()
	server := httptest.NewServer(receiver.handler(t))
	defer server.Close()
	defer close(receiver.events)

	listener := newRecordedListener()
	client := NewClient(WithURL("ws" + strings.TrimPrefix(server.URL, "http")))
	client.SetListener(listener)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if client.Connected() {
		t.Error("connected before any session event")
	}

	receiver.events <- `{"type": "SESSION_STARTED", "device": "Living Room"}`
	select {
	case device := <-listener.started:
		if device != "Living Room" {
			t.Errorf("device = %q", device)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no session-started callback")
	}
	if !client.Connected() {
		t.Error("not connected after SESSION_STARTED")
	}
	if client.DeviceName() != "Living Room" {
		t.Errorf("DeviceName() = %q", client.DeviceName())
	}

	receiver.events <- `{"type": "SESSION_ENDED"}`
	select {
	case <-listener.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("no session-ended callback")
	}
	if client.Connected() {
		t.Error("still connected after SESSION_ENDED")
	}
	if client.DeviceName() != "" {
		t.Errorf("DeviceName() = %q after session end", client.DeviceName())
	}
}

func TestClient_LoadCarriesTrackAndContentType(t *testing.T) {
	receiver := newCastReceiver()
	server := httptest.NewServer(receiver.handler(t))
	defer server.Close()
	defer close(receiver.events)

	client := NewClient(WithURL("ws" + strings.TrimPrefix(server.URL, "http")))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	meta := &metadata.TrackMetadata{
		Title:    "One More Time",
		Artist:   "Daft Punk",
		CoverURL: "https://img.example.com/omt.jpg",
	}
	if err := client.Load(context.Background(), "http://stream.example.com/live.aac", meta); err != nil {
		t.Fatalf("load: %v", err)
	}

	select {
	case cmd := <-receiver.commands:
		if cmd["type"] != "LOAD" {
			t.Errorf("type = %v", cmd["type"])
		}
		if cmd["contentType"] != "audio/aac" {
			t.Errorf("contentType = %v", cmd["contentType"])
		}
		if cmd["title"] != "One More Time" || cmd["artist"] != "Daft Punk" {
			t.Errorf("track fields = %v / %v", cmd["title"], cmd["artist"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receiver never saw the LOAD command")
	}
}

func TestClient_SendWithoutConnection(t *testing.T) {
	client := NewClient()
	if err := client.Play(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Play() error = %v, want ErrNotConnected", err)
	}
}

func TestClient_ConnectWithoutURLIsNoop(t *testing.T) {
	client := NewClient()
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	client.Close()
}
