package stages

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// PublicTransport returns a transport that refuses to connect to loopback,
// private or link-local addresses, so configured webhooks cannot be pointed
// at internal services.
func PublicTransport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 5 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			ip := net.ParseIP(host)
			if ip == nil {
				conn.Close()
				return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
			}
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
				conn.Close()
				return nil, fmt.Errorf("access to private IP %s is denied", ip)
			}
			return conn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
	}
}
