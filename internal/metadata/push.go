package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	ws "nhooyr.io/websocket"
)

const (
	// DefaultPushURL is the push metadata feed endpoint
	DefaultPushURL = "wss://metadata.aiir.net/now-playing"

	// connectSuppressWindow swallows duplicate connect attempts arriving in
	// quick succession, e.g. from a rapid station reselect.
	connectSuppressWindow = 500 * time.Millisecond

	// pushDialTimeout bounds the websocket handshake
	pushDialTimeout = 20 * time.Second
)

// PushClient subscribes to a websocket now-playing feed and emits one
// normalized update per inbound frame. The feed's subscribe-message shape
// is provisional; it was observed, not documented. A failed socket is
// closed and logged without automatic reconnection.
type PushClient struct {
	url       string
	userAgent string

	mu          sync.Mutex
	lastAttempt time.Time
}

// PushOption is a functional option for configuring the client.
type PushOption func(*PushClient)

// WithPushURL sets a custom feed URL (useful for testing).
func WithPushURL(url string) PushOption {
	return func(c *PushClient) { c.url = url }
}

// NewPushClient creates a new push feed client.
func NewPushClient(opts ...PushOption) *PushClient {
	c := &PushClient{
		url:       DefaultPushURL,
		userAgent: "RadioApp/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// subscribeMessage is sent once after the connection opens.
type subscribeMessage struct {
	Action    string `json:"action"`
	ServiceID any    `json:"serviceId"`
}

// pushFrame covers the known frame shapes. The feed has used several field
// layouts; they are tried in order.
type pushFrame struct {
	NowPlayingCamel *pushTrack `json:"nowPlaying"`
	Track           *pushTrack `json:"track"`
	NowPlayingSnake *pushTrack `json:"now_playing"`
	Title           string     `json:"title"`
	Artist          string     `json:"artist"`
	Image           string     `json:"image"`
}

type pushTrack struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Image  string `json:"image"`
}

// Run opens the socket, subscribes, and emits updates until the context is
// cancelled or the socket fails. It blocks for the life of the connection.
func (c *PushClient) Run(ctx context.Context, serviceID string, covers CoverFetcher, onUpdate UpdateFunc) {
	c.mu.Lock()
	if since := time.Since(c.lastAttempt); since < connectSuppressWindow {
		c.mu.Unlock()
		log.Debug().Dur("sinceLast", since).Msg("Push connect attempt suppressed")
		return
	}
	c.lastAttempt = time.Now()
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, pushDialTimeout)
	conn, _, err := ws.Dial(dialCtx, c.url, &ws.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{c.userAgent}},
	})
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("url", c.url).Msg("Push socket dial failed")
		return
	}
	defer conn.Close(ws.StatusNormalClosure, "stopping monitoring")

	if err := c.subscribe(ctx, conn, serviceID); err != nil {
		log.Warn().Err(err).Msg("Push subscribe failed")
		return
	}

	log.Info().Str("serviceID", serviceID).Msg("Push socket connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Socket failure: discard the connection, keep playback going.
			log.Warn().Err(err).Msg("Push socket read failed, metadata updates stop")
			return
		}

		meta := parsePushFrame(data)
		if meta == nil {
			continue
		}

		if meta.CoverURL != "" && strings.HasPrefix(meta.CoverURL, "http") {
			meta.CoverImage = covers.Download(ctx, meta.CoverURL)
		}

		onUpdate(meta)
	}
}

// subscribe sends the provider-specific subscribe message. Numeric service
// ids go out as JSON numbers, anything else as strings.
func (c *PushClient) subscribe(ctx context.Context, conn *ws.Conn, serviceID string) error {
	msg := subscribeMessage{Action: "subscribe"}
	if n, err := strconv.Atoi(serviceID); err == nil {
		msg.ServiceID = n
	} else {
		msg.ServiceID = serviceID
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

// parsePushFrame normalizes an inbound frame, trying the known shapes in
// order. Non-JSON frames (the feed sends plain-text errors) and frames
// without a usable title or artist are ignored.
func parsePushFrame(data []byte) *TrackMetadata {
	var frame pushFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Debug().Str("frame", truncate(string(data), 120)).Msg("Ignoring non-JSON push frame")
		return nil
	}

	track := frame.NowPlayingCamel
	if track == nil {
		track = frame.Track
	}
	if track == nil {
		track = frame.NowPlayingSnake
	}
	if track == nil {
		track = &pushTrack{Title: frame.Title, Artist: frame.Artist, Image: frame.Image}
	}

	meta := &TrackMetadata{
		Title:    strings.TrimSpace(track.Title),
		Artist:   strings.TrimSpace(track.Artist),
		CoverURL: track.Image,
	}
	if meta.CoverURL == "" {
		meta.CoverURL = frame.Image
	}
	if !meta.valid() {
		return nil
	}
	return meta
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
