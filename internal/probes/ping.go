package probes

import (
	"context"
	"net"
	"net/url"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/modelwatch/modelwatch/internal/logging"
)

const pingTimeout = 3 * time.Second

// PingProber measures network reachability of a provider's host,
// independently of the model-level check. Failures never propagate;
// an unreachable host simply yields a nil latency.
type PingProber struct {
	logger *logging.Logger

	// runICMP is swapped out in tests
	runICMP func(ctx context.Context, host string) (time.Duration, error)
}

// NewPingProber creates a ping prober backed by ICMP with a TCP-connect
// fallback for environments where raw/UDP sockets are unavailable.
func NewPingProber(logger *logging.Logger) *PingProber {
	return &PingProber{
		logger:  logger.WithComponent(logging.ComponentProbe),
		runICMP: runICMPPing,
	}
}

// Measure returns the round-trip latency to the endpoint's host in
// milliseconds, or nil if the host could not be reached either way.
func (p *PingProber) Measure(ctx context.Context, endpoint string) *int64 {
	host, port := hostPortFromEndpoint(endpoint)
	if host == "" {
		return nil
	}

	if rtt, err := p.runICMP(ctx, host); err == nil {
		ms := rtt.Milliseconds()
		return &ms
	} else {
		p.logger.WithFields(map[string]interface{}{
			"host": host,
		}).WithError(err).Debug("ICMP ping failed, falling back to TCP connect")
	}

	return p.tcpConnect(ctx, host, port)
}

func (p *PingProber) tcpConnect(ctx context.Context, host, port string) *int64 {
	dialer := net.Dialer{Timeout: pingTimeout}

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		p.logger.WithFields(map[string]interface{}{
			"host": host,
			"port": port,
		}).WithError(err).Debug("TCP connect probe failed")
		return nil
	}
	conn.Close()

	ms := time.Since(start).Milliseconds()
	return &ms
}

func runICMPPing(ctx context.Context, host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(false)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		return 0, ctx.Err()
	case err := <-done:
		if err != nil {
			return 0, err
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, net.UnknownNetworkError("no ping reply")
	}
	return stats.AvgRtt, nil
}

// hostPortFromEndpoint extracts the host and a dialable port from an
// endpoint URL, defaulting the port by scheme.
func hostPortFromEndpoint(endpoint string) (host, port string) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", ""
	}

	host = u.Hostname()
	port = u.Port()
	if port == "" {
		if u.Scheme == "http" {
			port = "80"
		} else {
			port = "443"
		}
	}
	return host, port
}
