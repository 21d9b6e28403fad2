package player

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const probeDialTimeout = 10 * time.Second

// ProbeTransport classifies the IP family a stream URL resolves to, using a
// one-shot dial test. It runs in the background and reports through the
// callback; failures are logged and produce no report.
func ProbeTransport(ctx context.Context, streamURL string, onResult func(IPFamily)) {
	go func() {
		family := probe(ctx, streamURL)
		if family == IPFamilyUnknown {
			return
		}
		onResult(family)
	}()
}

func probe(ctx context.Context, streamURL string) IPFamily {
	u, err := url.Parse(streamURL)
	if err != nil || u.Host == "" {
		log.Debug().Str("url", streamURL).Msg("Cannot probe malformed stream URL")
		return IPFamilyUnknown
	}

	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	dialer := &net.Dialer{Timeout: probeDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		log.Debug().Err(err).Str("host", host).Msg("Transport probe dial failed")
		return IPFamilyUnknown
	}
	defer conn.Close()

	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok || addr.IP == nil {
		return IPFamilyUnknown
	}
	if addr.IP.To4() != nil {
		return IPFamilyV4
	}
	return IPFamilyV6
}
