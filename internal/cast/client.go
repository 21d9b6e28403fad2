// Package cast drives a remote rendering receiver over a websocket
// control channel.
package cast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	ws "nhooyr.io/websocket"

	"github.com/ltn22/RadioApp/internal/metadata"
)

// Common errors
var (
	// ErrNotConnected indicates no control channel is open
	ErrNotConnected = errors.New("cast receiver not connected")
)

const castDialTimeout = 20 * time.Second

// Listener receives remote session lifecycle events. The client is purely
// reactive: it reports what the receiver says and never polls availability.
type Listener interface {
	OnCastSessionStarted(deviceName string)
	OnCastSessionEnded()
}

// Client is a JSON control-protocol client for a cast receiver. Outbound
// commands are LOAD, PLAY, PAUSE, STOP and VOLUME; inbound events are
// SESSION_STARTED, SESSION_ENDED and STATUS.
type Client struct {
	url       string
	userAgent string

	mu         sync.Mutex
	conn       *ws.Conn
	deviceName string
	connected  bool
	cancel     context.CancelFunc
	done       chan struct{}

	listener Listener
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithURL sets the receiver control endpoint.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// NewClient creates a cast control client. The client does nothing until
// Connect is called.
func NewClient(opts ...Option) *Client {
	c := &Client{
		userAgent: "RadioApp/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetListener registers the session event listener. Must be called before
// Connect.
func (c *Client) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// command is the outbound control message shape.
type command struct {
	Type        string  `json:"type"`
	URL         string  `json:"url,omitempty"`
	ContentType string  `json:"contentType,omitempty"`
	Title       string  `json:"title,omitempty"`
	Artist      string  `json:"artist,omitempty"`
	CoverURL    string  `json:"coverUrl,omitempty"`
	Level       float64 `json:"level,omitempty"`
}

// event is the inbound receiver message shape.
type event struct {
	Type   string `json:"type"`
	Device string `json:"device"`
	State  string `json:"state"`
}

// Connect dials the receiver and starts the inbound event loop. Without a
// configured URL it is a no-op; the system then runs local-only.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.url == "" {
		log.Debug().Msg("No cast receiver configured")
		return nil
	}
	if c.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, castDialTimeout)
	conn, _, err := ws.Dial(dialCtx, c.url, &ws.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{c.userAgent}},
	})
	cancel()
	if err != nil {
		return fmt.Errorf("dial cast receiver: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.conn = conn
	c.cancel = loopCancel
	c.done = done

	go c.readLoop(loopCtx, conn, done)

	log.Info().Str("url", c.url).Msg("Cast control channel open")
	return nil
}

// Close tears down the control channel. Safe to call when not connected.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	done := c.done
	c.conn = nil
	c.cancel = nil
	c.done = nil
	c.connected = false
	c.deviceName = ""
	c.mu.Unlock()

	if conn == nil {
		return
	}
	cancel()
	conn.Close(ws.StatusNormalClosure, "shutting down")
	<-done
}

// readLoop dispatches inbound receiver events until the socket dies.
func (c *Client) readLoop(ctx context.Context, conn *ws.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("Cast control channel lost")
				c.handleSessionEnded()
			}
			return
		}

		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debug().Msg("Ignoring malformed cast event")
			continue
		}

		switch ev.Type {
		case "SESSION_STARTED":
			c.handleSessionStarted(ev.Device)
		case "SESSION_ENDED":
			c.handleSessionEnded()
		case "STATUS":
			log.Debug().Str("state", ev.State).Msg("Cast receiver status")
		default:
			log.Debug().Str("type", ev.Type).Msg("Unknown cast event")
		}
	}
}

func (c *Client) handleSessionStarted(device string) {
	c.mu.Lock()
	c.connected = true
	c.deviceName = device
	listener := c.listener
	c.mu.Unlock()

	log.Info().Str("device", device).Msg("Cast session started")
	if listener != nil {
		listener.OnCastSessionStarted(device)
	}
}

func (c *Client) handleSessionEnded() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.deviceName = ""
	listener := c.listener
	c.mu.Unlock()

	if !wasConnected {
		return
	}
	log.Info().Msg("Cast session ended")
	if listener != nil {
		listener.OnCastSessionEnded()
	}
}

// Connected reports whether a remote session is active.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// DeviceName returns the receiver's self-reported name, or "" when no
// session is active.
func (c *Client) DeviceName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceName
}

// Load pushes a stream onto the receiver together with the current track
// for its display. The content type is inferred from the stream URL.
func (c *Client) Load(ctx context.Context, streamURL string, meta *metadata.TrackMetadata) error {
	cmd := command{
		Type:        "LOAD",
		URL:         streamURL,
		ContentType: ContentTypeForURL(streamURL),
	}
	if meta != nil {
		cmd.Title = meta.Title
		cmd.Artist = meta.Artist
		cmd.CoverURL = meta.CoverURL
	}
	return c.send(ctx, cmd)
}

// Play resumes playback on the receiver.
func (c *Client) Play(ctx context.Context) error {
	return c.send(ctx, command{Type: "PLAY"})
}

// Pause pauses playback on the receiver.
func (c *Client) Pause(ctx context.Context) error {
	return c.send(ctx, command{Type: "PAUSE"})
}

// Stop stops playback on the receiver.
func (c *Client) Stop(ctx context.Context) error {
	return c.send(ctx, command{Type: "STOP"})
}

// SetVolume sets the receiver volume, level in [0, 1].
func (c *Client) SetVolume(ctx context.Context, level float64) error {
	return c.send(ctx, command{Type: "VOLUME", Level: level})
}

func (c *Client) send(ctx context.Context, cmd command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode cast command: %w", err)
	}
	if err := conn.Write(ctx, ws.MessageText, data); err != nil {
		return fmt.Errorf("send cast command: %w", err)
	}

	log.Debug().Str("command", cmd.Type).Msg("Cast command sent")
	return nil
}

// ContentTypeForURL infers the media content type a receiver needs from the
// stream URL's path extension.
func ContentTypeForURL(streamURL string) string {
	path := streamURL
	if u, err := url.Parse(streamURL); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)

	switch {
	case strings.HasSuffix(path, ".m3u8"):
		return "application/x-mpegURL"
	case strings.HasSuffix(path, ".aac"):
		return "audio/aac"
	default:
		return "audio/mpeg"
	}
}
