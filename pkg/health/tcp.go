package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// TCPChecker checks that an address accepts connections. It is used for
// upstream feed endpoints, which speak WebSocket rather than plain HTTP.
type TCPChecker struct {
	// Address is the host:port to dial
	Address string

	// Timeout is the connection timeout (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPChecker creates a new TCP checker
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// NewTCPCheckerForURL dials the host and port of a ws:// or wss:// URL,
// defaulting the port from the scheme.
func NewTCPCheckerForURL(rawURL string) (*TCPChecker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("upstream url %q has no host", rawURL)
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return NewTCPChecker(net.JoinHostPort(u.Hostname(), port)), nil
}

// Check dials the address
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// Target returns the dialed address
func (t *TCPChecker) Target() string {
	return t.Address
}

// WithTimeout sets the connection timeout
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
