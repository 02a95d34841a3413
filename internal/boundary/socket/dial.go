package socket

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
)

// Retry defaults for connection establishment.
const (
	dialMaxRetries  = 5
	dialBaseBackoff = 100 * time.Millisecond
)

// Dial connects to a worker agent at addr, retrying with exponential backoff.
// See New for the address forms.
func Dial(ctx context.Context, addr string, retries int, backoff time.Duration) (net.Conn, error) {
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := range retries {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial worker: %w", ctx.Err())
		default:
		}

		conn, err := dialOnce(ctx, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt < retries-1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("dial worker: %w", ctx.Err())
			}
			backoff *= 2
		}
	}

	return nil, fmt.Errorf("dial worker after %d attempts: %w", retries, lastErr)
}

func dialOnce(ctx context.Context, addr string) (net.Conn, error) {
	network, target, ok := strings.Cut(addr, ":")
	if !ok || target == "" {
		return nil, fmt.Errorf("invalid worker address %q", addr)
	}

	switch network {
	case "unix", "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, target)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		return conn, nil
	case "vsock":
		cid, port, err := parseVsock(target)
		if err != nil {
			return nil, err
		}
		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, fmt.Errorf("vsock dial %d:%d: %w", cid, port, err)
		}
		return conn, nil
	case "firecracker":
		i := strings.LastIndexByte(target, ':')
		if i <= 0 {
			return nil, fmt.Errorf("invalid firecracker address %q, want firecracker:<uds>:<port>", addr)
		}
		port, err := strconv.ParseUint(target[i+1:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port in %q: %w", addr, err)
		}
		return dialVsockUDS(ctx, target[:i], uint32(port))
	default:
		return nil, fmt.Errorf("unsupported worker network %q", network)
	}
}

func parseVsock(target string) (cid, port uint32, err error) {
	c, p, ok := strings.Cut(target, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid vsock address %q, want <cid>:<port>", target)
	}
	cid64, err := strconv.ParseUint(c, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock cid %q: %w", c, err)
	}
	port64, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock port %q: %w", p, err)
	}
	return uint32(cid64), uint32(port64), nil
}

// dialVsockUDS connects to Firecracker's vsock UDS bridge and sends the
// CONNECT handshake. Protocol: send "CONNECT <port>\n", receive
// "OK <host_port>\n". The buffered reader is kept for all later reads so
// bytes read ahead of the handshake are not lost.
func dialVsockUDS(ctx context.Context, udsPath string, port uint32) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", udsPath)
	if err != nil {
		return nil, fmt.Errorf("connect to UDS %s: %w", udsPath, err)
	}

	if _, err := fmt.Fprintf(conn, "CONNECT %d\n", port); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	reader := bufio.NewReader(conn)
	response, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}

	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "OK ") {
		conn.Close()
		return nil, fmt.Errorf("vsock CONNECT failed: %s", response)
	}

	return &bufferedConn{Conn: conn, r: reader}, nil
}

// bufferedConn reads through the reader used for the handshake.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }
