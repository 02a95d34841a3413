// Package builtin registers the stock tasks shipped with the daemon and the
// worker binary. Both sides must register the same table.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/task"
)

// Register adds every built-in task to reg.
func Register(reg *task.Registry) {
	reg.Register("echo", "returns its first argument", echo)
	reg.Register("concat", "joins fields a and b of its first argument", concat)
	reg.Register("fib", "computes the n-th Fibonacci number recursively", fib)
	reg.Register("lookup", "returns the context variable named by its first argument", lookup)
	reg.Register("find-perp", "finds the suspect seen at CRIME_SCENE on CRIME_DATE among the bound or injected suspects", findPerp)
	reg.Register("arch", "reports the worker architecture through the os capability", arch)
	reg.Register("read-file", "reads a URL through the fs capability bound as read", readFile)
	reg.Register("sleep", "sleeps for the given milliseconds, then returns \"bar\"", sleep)
	reg.Register("fail", "fails with the given message", fail)
	reg.Register("panic", "panics with the given message", panicTask)
	reg.Register("exit", "ends the worker with the given exit code", exit)

	reg.RegisterStream("pair", "yields \"bar\", \"baz\" and returns \"foobar\"", pair)
	reg.RegisterStream("echo-chain", "appends each resume value to the next step", echoChain)
	reg.RegisterStream("paced", "sleeps each given delay in milliseconds before yielding its index", paced)
	reg.RegisterStream("even", "yields the even numbers of its first argument", even)
	reg.RegisterStream("count", "counts up forever", count)
	reg.RegisterStream("password", "checks resume values against a password", password)
}

// New returns a registry holding the built-in tasks.
func New() *task.Registry {
	reg := task.NewRegistry()
	Register(reg)
	return reg
}

func echo(_ context.Context, _ *task.Env, args task.Args) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

func concat(_ context.Context, _ *task.Env, args task.Args) (any, error) {
	var in struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	if err := args.Bind(&in); err != nil {
		return nil, err
	}
	return in.A + in.B, nil
}

func fib(ctx context.Context, _ *task.Env, args task.Args) (any, error) {
	var n int
	if err := args.Bind(&n); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("fib: negative input %d", n)
	}
	var calc func(int) int
	calc = func(n int) int {
		if n <= 1 {
			return n
		}
		return calc(n-1) + calc(n-2)
	}
	// Large inputs run for a long time; the worker is terminated from outside.
	return calc(n), ctx.Err()
}

func lookup(_ context.Context, env *task.Env, args task.Args) (any, error) {
	var name string
	if err := args.Bind(&name); err != nil {
		return nil, err
	}
	var v any
	if err := env.Var(name, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type suspect struct {
	Name      string            `json:"name"`
	Locations map[string]string `json:"locations"`
}

func findPerp(_ context.Context, env *task.Env, _ task.Args) (any, error) {
	var (
		scene, date string
		suspects    []suspect
	)
	if err := env.Var("CRIME_SCENE", &scene); err != nil {
		return nil, err
	}
	if err := env.Var("CRIME_DATE", &date); err != nil {
		return nil, err
	}
	if err := suspectList(env, &suspects); err != nil {
		return nil, err
	}
	for _, s := range suspects {
		if s.Locations[date] == scene {
			return s.Name, nil
		}
	}
	return nil, nil
}

// suspectList reads suspects from a capability binding, as bound from a JSON
// data module, or else from the context variable of the same name.
func suspectList(env *task.Env, v *[]suspect) error {
	ref, ok := env.Capability("suspects")
	if !ok {
		return env.Var("suspects", v)
	}
	raw, ok := ref.(json.RawMessage)
	if !ok {
		return fmt.Errorf("capability \"suspects\" has unexpected type %T", ref)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode suspects: %w", err)
	}
	return nil
}

func arch(_ context.Context, env *task.Env, args task.Args) (any, error) {
	alias := "arch"
	if len(args) > 0 {
		if err := args.Bind(&alias); err != nil {
			return nil, err
		}
	}
	ref, ok := env.Capability(alias)
	if !ok {
		return nil, fmt.Errorf("capability %q is not bound", alias)
	}
	switch v := ref.(type) {
	case func() string:
		return v(), nil
	case capability.Namespace:
		if fn, ok := v["arch"].(func() string); ok {
			return fn(), nil
		}
	}
	return nil, fmt.Errorf("capability %q does not provide arch", alias)
}

func readFile(ctx context.Context, env *task.Env, args task.Args) (any, error) {
	var url string
	if err := args.Bind(&url); err != nil {
		return nil, err
	}
	ref, ok := env.Capability("read")
	if !ok {
		return nil, errors.New("capability \"read\" is not bound")
	}
	read, ok := ref.(func(context.Context, string) ([]byte, error))
	if !ok {
		return nil, fmt.Errorf("capability \"read\" has unexpected type %T", ref)
	}
	data, err := read(ctx, url)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func sleep(ctx context.Context, env *task.Env, args task.Args) (any, error) {
	var ms int
	if err := args.Bind(&ms); err != nil {
		return nil, err
	}
	env.Logf("sleeping %dms", ms)
	if err := pause(ctx, ms); err != nil {
		return nil, err
	}
	return "bar", nil
}

func fail(_ context.Context, _ *task.Env, args task.Args) (any, error) {
	msg := "task failed"
	if len(args) > 0 {
		if err := args.Bind(&msg); err != nil {
			return nil, err
		}
	}
	return nil, errors.New(msg)
}

func panicTask(_ context.Context, _ *task.Env, args task.Args) (any, error) {
	msg := "boom"
	if len(args) > 0 {
		if err := args.Bind(&msg); err != nil {
			return nil, err
		}
	}
	panic(msg)
}

func exit(_ context.Context, env *task.Env, args task.Args) (any, error) {
	var code int
	if err := args.Bind(&code); err != nil {
		return nil, err
	}
	env.Exit(code)
	return nil, fmt.Errorf("exit %d not supported by this worker", code)
}

func pair(ctx context.Context, _ *task.Env, _ task.Args, y *task.Yielder) (any, error) {
	if err := y.Yield(ctx, "bar", nil); err != nil {
		return nil, err
	}
	if err := y.Yield(ctx, "baz", nil); err != nil {
		return nil, err
	}
	return "foobar", nil
}

func echoChain(ctx context.Context, _ *task.Env, _ task.Args, y *task.Yielder) (any, error) {
	var a, b, c string
	if err := y.Yield(ctx, "a", &a); err != nil {
		return nil, err
	}
	if err := y.Yield(ctx, a+"b", &b); err != nil {
		return nil, err
	}
	if err := y.Yield(ctx, b+"c", &c); err != nil {
		return nil, err
	}
	return c + "d", nil
}

func paced(ctx context.Context, _ *task.Env, args task.Args, y *task.Yielder) (any, error) {
	var delays []int
	if err := args.Bind(&delays); err != nil {
		return nil, err
	}
	for i, ms := range delays {
		if err := pause(ctx, ms); err != nil {
			return nil, err
		}
		if err := y.Yield(ctx, i, nil); err != nil {
			return nil, err
		}
	}
	return len(delays), nil
}

func even(ctx context.Context, _ *task.Env, args task.Args, y *task.Yielder) (any, error) {
	var data []int
	if err := args.Bind(&data); err != nil {
		return nil, err
	}
	n := 0
	for _, v := range data {
		if v%2 != 0 {
			continue
		}
		if err := y.Yield(ctx, v, nil); err != nil {
			return nil, err
		}
		n++
	}
	return n, nil
}

func count(ctx context.Context, _ *task.Env, _ task.Args, y *task.Yielder) (any, error) {
	for i := 0; ; i++ {
		if err := y.Yield(ctx, i, nil); err != nil {
			return nil, err
		}
	}
}

func password(ctx context.Context, _ *task.Env, args task.Args, y *task.Yielder) (any, error) {
	var secret string
	if err := args.Bind(&secret); err != nil {
		return nil, err
	}
	for {
		var attempt string
		if err := y.Yield(ctx, "Enter a password", &attempt); err != nil {
			return nil, err
		}
		if attempt == secret {
			return "Correct!", nil
		}
		if err := y.Yield(ctx, "Incorrect!", nil); err != nil {
			return nil, err
		}
	}
}

func pause(ctx context.Context, ms int) error {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
