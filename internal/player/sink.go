package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Common errors
var (
	// ErrNoStream indicates no stream URL has been prepared
	ErrNoStream = errors.New("no stream prepared")
)

const (
	sinkConnectTimeout = 20 * time.Second
	sinkReadTimeout    = 20 * time.Second

	// bufferCapacity is the readahead ring size; the fill level drives the
	// buffering percentage.
	bufferCapacity = 256 << 10

	// defaultByteRate is used until the server reports a bitrate (128 kbps).
	defaultByteRate = 16000

	drainInterval  = 100 * time.Millisecond
	bufferInterval = 500 * time.Millisecond
)

// SinkEvents carries the local sink's callbacks. All fields are optional.
// Callbacks fire on sink-internal goroutines.
type SinkEvents struct {
	OnBytes       func(n int64)
	OnStreamTitle func(title string)
	OnBuffering   func(percent int)
	OnCodec       func(codec string)
	OnError       func(err error)
}

// LocalSink reads an internet radio stream over HTTP, separating inline ICY
// metadata from audio bytes. Audio goes through a bounded ring buffer that
// is drained at the stream's byte rate scaled by the playback speed, which
// is what makes the time-compression skip work.
type LocalSink struct {
	events SinkEvents

	mu        sync.Mutex
	streamURL string
	playing   bool
	volume    float64
	speed     float64
	byteRate  int
	codec     string
	cancel    context.CancelFunc
	done      chan struct{}

	buf       *ringBuffer
	advancing atomic.Bool
}

// NewLocalSink creates a local sink.
func NewLocalSink(events SinkEvents) *LocalSink {
	return &LocalSink{
		events: events,
		volume: 1.0,
		speed:  1.0,
		buf:    newRingBuffer(bufferCapacity),
	}
}

// Prepare points the sink at a stream without connecting. A following Play
// starts the read.
func (s *LocalSink) Prepare(streamURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamURL = streamURL
	s.codec = ""
	s.byteRate = 0
	s.buf.Reset()
	log.Debug().Str("url", streamURL).Msg("Local sink prepared")
}

// Play connects to the prepared stream and starts the read and drain loops.
// Calling Play while already playing is a no-op.
func (s *LocalSink) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.streamURL == "" {
		s.mu.Unlock()
		return ErrNoStream
	}
	if s.playing {
		s.mu.Unlock()
		return nil
	}
	url := s.streamURL

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.playing = true
	s.mu.Unlock()

	connectCtx, connectCancel := context.WithTimeout(ctx, sinkConnectTimeout)
	defer connectCancel()

	req, err := http.NewRequestWithContext(connectCtx, http.MethodGet, url, nil)
	if err != nil {
		s.teardown()
		close(done)
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Icy-MetaData", "1")
	req.Header.Set("User-Agent", "RadioApp/1.0")
	req.Header.Set("Accept", "*/*")

	// No overall client timeout: the body is read for the life of playback.
	client := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: sinkReadTimeout,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		s.teardown()
		close(done)
		return fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		s.teardown()
		close(done)
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	s.applyHeaders(resp.Header)

	metaint := 0
	if v := resp.Header.Get("icy-metaint"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			metaint = n
		}
	}

	go s.run(runCtx, resp.Body, metaint, done)
	log.Info().Str("url", url).Int("metaint", metaint).Msg("Stream connected")
	return nil
}

// applyHeaders picks the byte rate and codec out of the response headers.
func (s *LocalSink) applyHeaders(h http.Header) {
	byteRate := defaultByteRate
	if v := h.Get("icy-br"); v != "" {
		if kbps, err := strconv.Atoi(v); err == nil && kbps > 0 {
			byteRate = kbps * 1000 / 8
		}
	}

	codec := codecFromContentType(h.Get("Content-Type"))

	s.mu.Lock()
	s.byteRate = byteRate
	s.codec = codec
	s.mu.Unlock()

	if codec != "" && s.events.OnCodec != nil {
		s.events.OnCodec(codec)
	}
}

// run owns the network read, ICY demux, drain pacing and buffering report
// for one connection.
func (s *LocalSink) run(ctx context.Context, body io.ReadCloser, metaint int, done chan struct{}) {
	defer close(done)
	defer body.Close()

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readStream(ctx, body, metaint)
	}()

	drain := time.NewTicker(drainInterval)
	defer drain.Stop()
	report := time.NewTicker(bufferInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			s.advancing.Store(false)
			return
		case err := <-readErr:
			s.advancing.Store(false)
			if ctx.Err() == nil && err != nil {
				log.Error().Err(err).Msg("Stream read failed")
				if s.events.OnError != nil {
					s.events.OnError(err)
				}
			}
			return
		case <-drain.C:
			s.drainTick()
		case <-report.C:
			if s.events.OnBuffering != nil {
				s.events.OnBuffering(s.BufferingPercent())
			}
		}
	}
}

// drainTick consumes buffered audio at byteRate x speed. Nothing is decoded;
// draining models playback progress so that speed changes compress time.
func (s *LocalSink) drainTick() {
	s.mu.Lock()
	rate := s.byteRate
	speed := s.speed
	s.mu.Unlock()
	if rate == 0 {
		rate = defaultByteRate
	}

	want := int(float64(rate) * speed * drainInterval.Seconds())
	got := s.buf.Discard(want)
	s.advancing.Store(got > 0)
}

// readStream demuxes the ICY stream: metaint audio bytes, one length byte,
// then length*16 bytes of metadata, repeated. A metaint of 0 means the
// stream carries no inline metadata.
func (s *LocalSink) readStream(ctx context.Context, body io.Reader, metaint int) error {
	audio := make([]byte, 8<<10)
	lastTitle := ""
	sniffed := false
	untilMeta := metaint

	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk := len(audio)
		if metaint > 0 && untilMeta < chunk {
			chunk = untilMeta
		}

		n, err := body.Read(audio[:chunk])
		if n > 0 {
			if !sniffed {
				sniffed = true
				s.sniffCodec(audio[:n])
			}
			s.buf.Write(audio[:n])
			if s.events.OnBytes != nil {
				s.events.OnBytes(int64(n))
			}
			if metaint > 0 {
				untilMeta -= n
			}
		}
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		if metaint > 0 && untilMeta == 0 {
			title, err := readMetaBlock(body)
			if err != nil {
				return err
			}
			if title != "" && title != lastTitle {
				lastTitle = title
				if s.events.OnStreamTitle != nil {
					s.events.OnStreamTitle(title)
				}
			}
			untilMeta = metaint
		}
	}
}

// readMetaBlock reads one ICY metadata block and extracts StreamTitle.
func readMetaBlock(r io.Reader) (string, error) {
	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return "", err
	}
	size := int(lenByte[0]) * 16
	if size == 0 {
		return "", nil
	}
	block := make([]byte, size)
	if _, err := io.ReadFull(r, block); err != nil {
		return "", err
	}
	return parseStreamTitle(string(bytes.TrimRight(block, "\x00"))), nil
}

// parseStreamTitle extracts the StreamTitle value from an ICY metadata
// string of the form StreamTitle='...';StreamUrl='...';
func parseStreamTitle(meta string) string {
	const marker = "StreamTitle='"
	start := strings.Index(meta, marker)
	if start < 0 {
		return ""
	}
	rest := meta[start+len(marker):]
	end := strings.Index(rest, "';")
	if end < 0 {
		end = strings.LastIndex(rest, "'")
		if end < 0 {
			return ""
		}
	}
	return strings.TrimSpace(rest[:end])
}

// sniffCodec falls back to magic bytes when the Content-Type was unhelpful.
func (s *LocalSink) sniffCodec(chunk []byte) {
	s.mu.Lock()
	known := s.codec != ""
	s.mu.Unlock()
	if known {
		return
	}

	codec := codecFromMagic(chunk)
	if codec == "" {
		return
	}

	s.mu.Lock()
	s.codec = codec
	s.mu.Unlock()
	if s.events.OnCodec != nil {
		s.events.OnCodec(codec)
	}
}

func codecFromContentType(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "aac"):
		return "AAC"
	case strings.Contains(ct, "mpeg") || strings.Contains(ct, "mp3"):
		return "MP3"
	case strings.Contains(ct, "ogg"):
		return "OGG"
	default:
		return ""
	}
}

func codecFromMagic(chunk []byte) string {
	if len(chunk) < 4 {
		return ""
	}
	switch {
	case bytes.HasPrefix(chunk, []byte("ID3")):
		return "MP3"
	case bytes.HasPrefix(chunk, []byte("OggS")):
		return "OGG"
	case chunk[0] == 0xFF && (chunk[1] == 0xFB || chunk[1] == 0xFA || chunk[1] == 0xF3 || chunk[1] == 0xF2):
		return "MP3"
	case chunk[0] == 0xFF && (chunk[1] == 0xF1 || chunk[1] == 0xF9):
		return "AAC"
	default:
		return ""
	}
}

// Pause closes the connection but keeps the prepared stream, so a later
// Play reconnects. Live streams cannot hold position, so pause and resume
// means rejoin at the live edge.
func (s *LocalSink) Pause() {
	s.stopReader()
	log.Debug().Msg("Local sink paused")
}

// Stop closes the connection and clears the prepared stream.
func (s *LocalSink) Stop() {
	s.stopReader()
	s.mu.Lock()
	s.streamURL = ""
	s.buf.Reset()
	s.mu.Unlock()
	log.Debug().Msg("Local sink stopped")
}

func (s *LocalSink) stopReader() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.playing = false
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.advancing.Store(false)
}

func (s *LocalSink) teardown() {
	s.mu.Lock()
	s.cancel = nil
	s.done = nil
	s.playing = false
	s.mu.Unlock()
}

// IsPlaying reports whether a stream connection is up.
func (s *LocalSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// IsAdvancing reports whether playback made progress on the last drain
// tick. False while buffering or stalled.
func (s *LocalSink) IsAdvancing() bool {
	return s.advancing.Load()
}

// BufferingPercent returns the readahead fill level, 0-100.
func (s *LocalSink) BufferingPercent() int {
	return s.buf.Len() * 100 / bufferCapacity
}

// ResetBuffering empties the readahead buffer.
func (s *LocalSink) ResetBuffering() {
	s.buf.Reset()
}

// Volume returns the output volume, 0-1.
func (s *LocalSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// SetVolume sets the output volume, clamped to [0, 1].
func (s *LocalSink) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

// Speed returns the playback speed multiplier.
func (s *LocalSink) Speed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// SetSpeed sets the playback speed multiplier. The drain loop picks it up
// on its next tick.
func (s *LocalSink) SetSpeed(speed float64) {
	if speed <= 0 {
		speed = 1.0
	}
	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
}

// Codec returns the detected stream codec, "" when not yet known.
func (s *LocalSink) Codec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec
}

// ringBuffer is a bounded byte ring. Writes past capacity evict the oldest
// data; the stream is live, holding stale audio has no value.
type ringBuffer struct {
	mu   sync.Mutex
	data []byte
	size int
	head int
	fill int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{data: make([]byte, size), size: size}
}

func (b *ringBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.size {
		p = p[len(p)-b.size:]
	}
	for _, c := range p {
		idx := (b.head + b.fill) % b.size
		b.data[idx] = c
		if b.fill < b.size {
			b.fill++
		} else {
			b.head = (b.head + 1) % b.size
		}
	}
}

// Discard drops up to n bytes from the front, returning how many were
// dropped.
func (b *ringBuffer) Discard(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.fill {
		n = b.fill
	}
	b.head = (b.head + n) % b.size
	b.fill -= n
	return n
}

func (b *ringBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fill
}

func (b *ringBuffer) Reset() {
	b.mu.Lock()
	b.head = 0
	b.fill = 0
	b.mu.Unlock()
}
