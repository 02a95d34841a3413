package worker

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// Listen opens a listener for addr, written as "unix:<path>", "tcp:<host:port>"
// or "vsock:<port>".
func Listen(addr string) (net.Listener, error) {
	network, target, ok := strings.Cut(addr, ":")
	if !ok || target == "" {
		return nil, fmt.Errorf("invalid listen address %q", addr)
	}

	switch network {
	case "unix", "tcp":
		l, err := net.Listen(network, target)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		return l, nil
	case "vsock":
		port, err := strconv.ParseUint(target, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vsock port %q: %w", target, err)
		}
		l, err := vsock.Listen(uint32(port), nil)
		if err != nil {
			return nil, fmt.Errorf("vsock listen on port %d: %w", port, err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported listen network %q", network)
	}
}

// stdio joins the process's stdin and stdout into one connection.
type stdio struct {
	io.Reader
	io.Writer
}

func (s stdio) Close() error {
	return os.Stdout.Close()
}

// Stdio returns the connection a process worker speaks over.
func Stdio() io.ReadWriteCloser {
	return stdio{Reader: os.Stdin, Writer: os.Stdout}
}
