package socket_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/boundary/socket"
	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/task/builtin"
	"github.com/seantiz/offload/internal/wire"
	"github.com/seantiz/offload/internal/worker"
)

func newAgent() *worker.Agent {
	return worker.New(builtin.New(), capability.Builtin())
}

// serveUnix runs an agent on a unix socket and returns its path.
func serveUnix(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go newAgent().Serve(l)
	return path
}

func concatRequest() wire.StartRequest {
	return wire.StartRequest{
		Task: "concat",
		Mode: "one_shot",
		Args: []json.RawMessage{json.RawMessage(`{"a":"foo","b":"bar"}`)},
	}
}

func expectResult(t *testing.T, h boundary.Handle, want string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f, err := h.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Type != wire.TypeResult || string(f.Value) != want {
		t.Errorf("frame = %+v, want result %s", f, want)
	}
}

func TestSpawnUnix(t *testing.T) {
	b := socket.New("unix:" + serveUnix(t))
	if b.Name() != socket.Name {
		t.Errorf("Name() = %q, want %q", b.Name(), socket.Name)
	}

	h, err := b.Spawn(context.Background(), concatRequest(), boundary.SpawnOptions{ID: "exec-1"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	expectResult(t, h, `"foobar"`)
	if h.ExitCode() != boundary.ExitCodeUnknown {
		t.Errorf("ExitCode() = %d, want unknown", h.ExitCode())
	}
}

func TestSpawnTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go newAgent().Serve(l)

	h, err := socket.New("tcp:"+l.Addr().String()).Spawn(context.Background(), concatRequest(), boundary.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	expectResult(t, h, `"foobar"`)
}

// serveFirecrackerBridge emulates Firecracker's vsock UDS: it answers the
// CONNECT handshake with reply and then serves the agent on the connection.
func serveFirecrackerBridge(t *testing.T, reply string) (string, <-chan string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	requests := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			conn.Close()
			return
		}
		requests <- strings.TrimSpace(line)
		fmt.Fprintf(conn, "%s\n", reply)
		if !strings.HasPrefix(reply, "OK ") {
			conn.Close()
			return
		}
		newAgent().ServeConn(conn)
	}()
	return path, requests
}

func TestSpawnFirecrackerHandshake(t *testing.T) {
	path, requests := serveFirecrackerBridge(t, "OK 1073741824")

	h, err := socket.New("firecracker:"+path+":52").Spawn(context.Background(), concatRequest(), boundary.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	if got := <-requests; got != "CONNECT 52" {
		t.Errorf("handshake = %q, want %q", got, "CONNECT 52")
	}
	expectResult(t, h, `"foobar"`)
}

func TestSpawnFirecrackerRejected(t *testing.T) {
	path, _ := serveFirecrackerBridge(t, "FAILURE")

	b := socket.New("firecracker:"+path+":52", socket.WithRetry(1, time.Millisecond))
	_, err := b.Spawn(context.Background(), concatRequest(), boundary.SpawnOptions{})
	if !errors.Is(err, boundary.ErrSpawnFailure) {
		t.Fatalf("Spawn error = %v, want spawn failure", err)
	}
	if !strings.Contains(err.Error(), "vsock CONNECT failed") {
		t.Errorf("error %q does not mention the failed handshake", err)
	}
}

func TestSpawnRetryExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	b := socket.New("unix:"+path, socket.WithRetry(3, time.Millisecond))

	_, err := b.Spawn(context.Background(), concatRequest(), boundary.SpawnOptions{})
	if !errors.Is(err, boundary.ErrSpawnFailure) {
		t.Fatalf("Spawn error = %v, want spawn failure", err)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error %q does not report the attempts", err)
	}
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := socket.Dial(ctx, "unix:/nonexistent", 5, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Dial error = %v, want context.Canceled", err)
	}
}

func TestDialInvalidAddress(t *testing.T) {
	for _, addr := range []string{"bogus", "udp:1.2.3.4:5", "vsock:3", "vsock:x:52", "firecracker:52"} {
		if _, err := socket.Dial(context.Background(), addr, 1, time.Millisecond); err == nil {
			t.Errorf("Dial(%q) succeeded, want error", addr)
		}
	}
}

func TestTerminateCancelsRemoteWork(t *testing.T) {
	b := socket.New("unix:" + serveUnix(t))
	h, err := b.Spawn(context.Background(), wire.StartRequest{
		Task: "sleep",
		Mode: "one_shot",
		Args: []json.RawMessage{json.RawMessage(`60000`)},
	}, boundary.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	h.Terminate()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Terminate")
	}
}
