package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// defaultConnectTimeout bounds dialling a network reader.
const defaultConnectTimeout = 10 * time.Second

// NetTransport reads from serial-over-IP gateways and local socket
// bridges. Line parameters are configured on the gateway; only the read
// timeout applies here.
type NetTransport struct {
	ConnectTimeout time.Duration
}

// NewNetTransport returns a NetTransport with default timeouts.
func NewNetTransport() *NetTransport {
	return &NetTransport{ConnectTimeout: defaultConnectTimeout}
}

// Available implements Transport. Sockets need no host hardware.
func (t *NetTransport) Available() bool {
	return true
}

// Open implements Transport.
func (t *NetTransport) Open(ctx context.Context, line LineConfig) (Session, error) {
	network, address, err := parseDeviceURL(line.Device)
	if err != nil {
		return nil, err
	}

	timeout := t.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", line.Device, err)
	}
	return &netSession{conn: conn, timeout: line.withDefaults().ReadTimeout}, nil
}

// netSession adapts a net.Conn to the Session contract: a read deadline
// expiry is an idle timeout, reported as (0, nil).
type netSession struct {
	conn    net.Conn
	timeout time.Duration
}

func (s *netSession) Read(p []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return 0, fmt.Errorf("set deadline: %w", err)
	}
	n, err := s.conn.Read(p)
	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}

func (s *netSession) Close() error {
	return s.conn.Close()
}

// parseDeviceURL parses a reader stream URL into network and address.
func parseDeviceURL(device string) (network, address string, err error) {
	u, err := url.Parse(device)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrUnsupportedDevice, err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("%w: unix URL without path", ErrUnsupportedDevice)
		}
		return "unix", u.Path, nil
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("%w: tcp URL without host", ErrUnsupportedDevice)
		}
		if u.Port() == "" {
			return "", "", fmt.Errorf("%w: tcp URL without port", ErrUnsupportedDevice)
		}
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("%w: scheme %q (use tcp or unix)", ErrUnsupportedDevice, u.Scheme)
	}
}
