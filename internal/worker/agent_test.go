package worker

import (
	"context"
	"encoding/json"
	"net"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/task"
	"github.com/seantiz/offload/internal/task/builtin"
	"github.com/seantiz/offload/internal/wire"
)

// startAgent serves one work unit on a pipe and returns the host end plus a
// channel delivering the exit code.
func startAgent(t *testing.T, reg *task.Registry, req wire.StartRequest) (net.Conn, <-chan int) {
	t.Helper()
	host, workerEnd := net.Pipe()
	t.Cleanup(func() { host.Close() })

	agent := New(reg, capability.Builtin())
	codes := make(chan int, 1)
	go func() { codes <- agent.ServeConn(workerEnd) }()

	if err := wire.WriteMessage(host, &wire.Frame{Type: wire.TypeStart, Start: &req}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	return host, codes
}

func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f wire.Frame
	if err := wire.ReadMessage(conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitCode(t *testing.T, codes <-chan int) int {
	t.Helper()
	select {
	case c := <-codes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("ServeConn did not return")
		return -1
	}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestServeConnOneShot(t *testing.T) {
	host, codes := startAgent(t, builtin.New(), wire.StartRequest{
		Task: "concat",
		Mode: "one_shot",
		Args: []json.RawMessage{raw(`{"a":"foo","b":"bar"}`)},
	})

	f := readFrame(t, host)
	if f.Type != wire.TypeResult {
		t.Fatalf("frame type = %q, want result", f.Type)
	}
	if string(f.Value) != `"foobar"` {
		t.Errorf("value = %s, want \"foobar\"", f.Value)
	}
	if code := waitCode(t, codes); code != ExitOK {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestServeConnContextInjection(t *testing.T) {
	host, _ := startAgent(t, builtin.New(), wire.StartRequest{
		Task:    "lookup",
		Mode:    "one_shot",
		Args:    []json.RawMessage{raw(`"bar"`)},
		Context: map[string]json.RawMessage{"bar": raw(`"baz"`)},
	})

	f := readFrame(t, host)
	if f.Type != wire.TypeResult || string(f.Value) != `"baz"` {
		t.Errorf("got %s %s, want result \"baz\"", f.Type, f.Value)
	}
}

func TestServeConnCapabilities(t *testing.T) {
	host, _ := startAgent(t, builtin.New(), wire.StartRequest{
		Task:     "arch",
		Mode:     "one_shot",
		Args:     []json.RawMessage{raw(`"archb"`)},
		Bindings: []capability.Binding{{Module: "os", Export: "arch", Alias: "archb"}},
	})

	f := readFrame(t, host)
	want, _ := json.Marshal(runtime.GOARCH)
	if f.Type != wire.TypeResult || string(f.Value) != string(want) {
		t.Errorf("got %s %s, want result %s", f.Type, f.Value, want)
	}
}

func TestServeConnStreamResume(t *testing.T) {
	host, codes := startAgent(t, builtin.New(), wire.StartRequest{Task: "echo-chain", Mode: "stream"})

	steps := []struct {
		resume string
		want   string
		done   bool
	}{
		{"", `"a"`, false},
		{`"b"`, `"bb"`, false},
		{`"c"`, `"cc"`, false},
		{`"d"`, `"dd"`, true},
	}
	for i, st := range steps {
		if st.resume != "" {
			if err := wire.WriteMessage(host, &wire.Frame{Type: wire.TypeResume, Value: raw(st.resume)}); err != nil {
				t.Fatalf("write resume %d: %v", i, err)
			}
		}
		f := readFrame(t, host)
		if f.Type != wire.TypeStep {
			t.Fatalf("step %d: type = %q, want step", i, f.Type)
		}
		if string(f.Value) != st.want || f.Done != st.done {
			t.Errorf("step %d = %s done=%v, want %s done=%v", i, f.Value, f.Done, st.want, st.done)
		}
	}
	if code := waitCode(t, codes); code != ExitOK {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestServeConnUnknownTask(t *testing.T) {
	host, _ := startAgent(t, builtin.New(), wire.StartRequest{Task: "nope", Mode: "one_shot"})

	f := readFrame(t, host)
	if f.Type != wire.TypeError || f.Error == nil || !strings.Contains(f.Error.Message, "unknown task") {
		t.Errorf("got %+v, want unknown task error", f)
	}
}

func TestServeConnModeMismatch(t *testing.T) {
	host, _ := startAgent(t, builtin.New(), wire.StartRequest{Task: "pair", Mode: "one_shot"})

	f := readFrame(t, host)
	if f.Type != wire.TypeError || !strings.Contains(f.Error.Message, "stream mode") {
		t.Errorf("got %+v, want mode mismatch error", f)
	}
}

func TestServeConnTaskError(t *testing.T) {
	host, _ := startAgent(t, builtin.New(), wire.StartRequest{
		Task: "fail",
		Mode: "one_shot",
		Args: []json.RawMessage{raw(`"no suspects"`)},
	})

	f := readFrame(t, host)
	if f.Type != wire.TypeError || f.Error.Message != "no suspects" {
		t.Errorf("got %+v, want error \"no suspects\"", f)
	}
	if f.Error.Stack != "" {
		t.Errorf("plain error carries stack %q", f.Error.Stack)
	}
}

func TestServeConnPanic(t *testing.T) {
	host, _ := startAgent(t, builtin.New(), wire.StartRequest{
		Task: "panic",
		Mode: "one_shot",
		Args: []json.RawMessage{raw(`"kaboom"`)},
	})

	f := readFrame(t, host)
	if f.Type != wire.TypeError || !strings.Contains(f.Error.Message, "kaboom") {
		t.Fatalf("got %+v, want panic error", f)
	}
	if !strings.Contains(f.Error.Stack, "goroutine") {
		t.Errorf("stack = %q, want a goroutine trace", f.Error.Stack)
	}
}

func TestServeConnExit(t *testing.T) {
	host, codes := startAgent(t, builtin.New(), wire.StartRequest{
		Task: "exit",
		Mode: "one_shot",
		Args: []json.RawMessage{raw(`124`)},
	})

	if code := waitCode(t, codes); code != 124 {
		t.Errorf("exit code = %d, want 124", code)
	}

	host.SetReadDeadline(time.Now().Add(time.Second))
	var f wire.Frame
	if err := wire.ReadMessage(host, &f); err == nil {
		t.Errorf("got frame %+v after exit, want closed connection", f)
	}
}

func TestServeConnLogFrames(t *testing.T) {
	reg := task.NewRegistry()
	reg.Register("chatty", "", func(_ context.Context, env *task.Env, _ task.Args) (any, error) {
		env.Logf("working on %s", "it")
		return true, nil
	})
	host, _ := startAgent(t, reg, wire.StartRequest{Task: "chatty", Mode: "one_shot"})

	f := readFrame(t, host)
	if f.Type != wire.TypeLog || f.Line != "working on it" {
		t.Errorf("first frame = %+v, want log line", f)
	}
	f = readFrame(t, host)
	if f.Type != wire.TypeResult || string(f.Value) != "true" {
		t.Errorf("second frame = %+v, want result true", f)
	}
}

func TestServeConnHostClose(t *testing.T) {
	host, codes := startAgent(t, builtin.New(), wire.StartRequest{Task: "count", Mode: "stream"})

	f := readFrame(t, host)
	if f.Type != wire.TypeStep || string(f.Value) != "0" {
		t.Fatalf("first step = %+v, want 0", f)
	}

	host.Close()
	if code := waitCode(t, codes); code != ExitOK {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestServeConnBadStart(t *testing.T) {
	host, workerEnd := net.Pipe()
	defer host.Close()

	agent := New(builtin.New(), nil)
	codes := make(chan int, 1)
	go func() { codes <- agent.ServeConn(workerEnd) }()

	if err := wire.WriteMessage(host, &wire.Frame{Type: wire.TypeResume}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, host)
	if f.Type != wire.TypeError {
		t.Errorf("got %+v, want error frame", f)
	}
	if code := waitCode(t, codes); code != ExitProtocol {
		t.Errorf("exit code = %d, want %d", code, ExitProtocol)
	}
}

func TestServeListener(t *testing.T) {
	l, err := Listen("tcp:127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	agent := New(builtin.New(), capability.Builtin())
	go agent.Serve(l)

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	req := wire.StartRequest{Task: "echo", Mode: "one_shot", Args: []json.RawMessage{raw(`[1,2]`)}}
	if err := wire.WriteMessage(conn, &wire.Frame{Type: wire.TypeStart, Start: &req}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	f := readFrame(t, conn)
	if f.Type != wire.TypeResult || string(f.Value) != "[1,2]" {
		t.Errorf("got %+v, want result [1,2]", f)
	}
}

func TestListenInvalid(t *testing.T) {
	for _, addr := range []string{"", "unix", "udp:1234", "vsock:notaport"} {
		if _, err := Listen(addr); err == nil {
			t.Errorf("Listen(%q): expected error, got nil", addr)
		}
	}
}
