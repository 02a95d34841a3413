package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/seantiz/offload/internal/model"
)

func TestRegistryLookupAndUnit(t *testing.T) {
	reg := NewRegistry()
	reg.Register("double", "doubles a number", func(_ context.Context, _ *Env, args Args) (any, error) {
		var n int
		if err := args.Bind(&n); err != nil {
			return nil, err
		}
		return n * 2, nil
	})
	reg.RegisterStream("count", "", func(_ context.Context, _ *Env, _ Args, _ *Yielder) (any, error) {
		return nil, nil
	})

	d, err := reg.Lookup("double")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if d.Mode != model.ModeOneShot {
		t.Errorf("Mode = %q, want %q", d.Mode, model.ModeOneShot)
	}

	got, err := d.Run(context.Background(), NewEnv(EnvConfig{}), Args{json.RawMessage("21")})
	if err != nil || got != 42 {
		t.Errorf("Run = %v, %v; want 42, nil", got, err)
	}
	if _, err := d.RunStream(context.Background(), nil, nil, nil); err == nil {
		t.Error("RunStream on one-shot task: expected error")
	}

	w, err := reg.Unit("count", 1, "x")
	if err != nil {
		t.Fatalf("Unit: %v", err)
	}
	if w.Mode != model.ModeStream || w.Task != "count" || len(w.Args) != 2 {
		t.Errorf("Unit = %+v", w)
	}

	if _, err := reg.Lookup("missing"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Lookup(missing): got %v, want ErrUnknownTask", err)
	}
	if _, err := reg.Unit("missing"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Unit(missing): got %v, want ErrUnknownTask", err)
	}

	list := reg.List()
	if len(list) != 2 || list[0].Name != "count" || list[1].Name != "double" {
		t.Errorf("List() = %+v", list)
	}
}

func TestArgsDecode(t *testing.T) {
	args := Args{json.RawMessage(`{"a":"foo","b":"bar"}`), json.RawMessage(`7`)}

	var pair struct{ A, B string }
	var n int
	if err := args.Bind(&pair, &n); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if pair.A+pair.B != "foobar" || n != 7 {
		t.Errorf("decoded %+v, %d", pair, n)
	}

	if err := args.Decode(2, &n); err == nil {
		t.Error("Decode out of range: expected error")
	}
	var s string
	if err := args.Decode(1, &s); err == nil {
		t.Error("Decode type mismatch: expected error")
	}
}

func TestEnvVarAndCapability(t *testing.T) {
	var logged []string
	env := NewEnv(EnvConfig{
		Vars:         map[string]json.RawMessage{"bar": json.RawMessage(`"baz"`)},
		Capabilities: map[string]any{"arch": func() string { return "riscv64" }},
		Log:          func(line string) { logged = append(logged, line) },
	})

	var bar string
	if err := env.Var("bar", &bar); err != nil || bar != "baz" {
		t.Errorf("Var(bar) = %q, %v; want baz, nil", bar, err)
	}
	if err := env.Var("qux", &bar); !errors.Is(err, ErrUnbound) {
		t.Errorf("Var(qux): got %v, want ErrUnbound", err)
	}

	v, ok := env.Capability("arch")
	if !ok || v.(func() string)() != "riscv64" {
		t.Error("Capability(arch) missing or wrong")
	}
	if _, ok := env.Capability("fs"); ok {
		t.Error("Capability(fs) present, want absent")
	}

	env.Logf("step %d", 1)
	if len(logged) != 1 || logged[0] != "step 1" {
		t.Errorf("logged = %v", logged)
	}
}

func TestYielderResume(t *testing.T) {
	var sent []string
	y := NewYielder(func(_ context.Context, v json.RawMessage) (json.RawMessage, error) {
		sent = append(sent, string(v))
		if len(sent) == 1 {
			return nil, nil
		}
		return json.RawMessage(`"c"`), nil
	})

	resume := "untouched"
	if err := y.Yield(context.Background(), "a", &resume); err != nil {
		t.Fatalf("Yield: %v", err)
	}
	if resume != "untouched" {
		t.Errorf("resume after empty reply = %q, want untouched", resume)
	}
	if err := y.Yield(context.Background(), "bb", &resume); err != nil {
		t.Fatalf("Yield: %v", err)
	}
	if resume != "c" {
		t.Errorf("resume = %q, want c", resume)
	}
	if len(sent) != 2 || sent[0] != `"a"` || sent[1] != `"bb"` {
		t.Errorf("sent = %v", sent)
	}

	failing := NewYielder(func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, context.Canceled
	})
	if err := failing.Yield(context.Background(), 1, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Yield error = %v, want context.Canceled", err)
	}
}
