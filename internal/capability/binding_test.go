package capability

import "testing"

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec string
		want Binding
	}{
		{"default as fs", Binding{Module: "os", Export: "default", Alias: "fs"}},
		{"* as osx", Binding{Module: "os", Export: "*", Alias: "osx"}},
		{"arch", Binding{Module: "os", Export: "arch", Alias: "arch"}},
		{"arch as archb", Binding{Module: "os", Export: "arch", Alias: "archb"}},
		{"  arch  as  archb ", Binding{Module: "os", Export: "arch", Alias: "archb"}},
		{"default", Binding{Module: "os", Export: "default", Alias: "os"}},
		{"*", Binding{Module: "os", Export: "*", Alias: "os"}},
	}
	for _, tt := range tests {
		got, err := ParseSpec("os", tt.spec)
		if err != nil {
			t.Errorf("ParseSpec(%q): %v", tt.spec, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSpec(%q) = %+v, want %+v", tt.spec, got, tt.want)
		}
	}
}

func TestParseSpecInvalid(t *testing.T) {
	for _, spec := range []string{"", "   ", "arch as ", "arch as a b", "a b"} {
		if _, err := ParseSpec("os", spec); err == nil {
			t.Errorf("ParseSpec(%q): expected error, got nil", spec)
		}
	}
}

func TestParseSpecsDuplicateAlias(t *testing.T) {
	_, err := ParseSpecs(map[string][]string{
		"os": {"arch"},
		"fs": {"read as arch"},
	})
	if err == nil {
		t.Fatal("expected duplicate alias error, got nil")
	}
}

func TestParseSpecsOrdering(t *testing.T) {
	bindings, err := ParseSpecs(map[string][]string{
		"os": {"arch", "platform"},
		"fs": {"default as fs"},
	})
	if err != nil {
		t.Fatalf("ParseSpecs: %v", err)
	}
	want := []string{"fs", "arch", "platform"}
	if len(bindings) != len(want) {
		t.Fatalf("got %d bindings, want %d", len(bindings), len(want))
	}
	for i, b := range bindings {
		if b.Alias != want[i] {
			t.Errorf("binding[%d].Alias = %q, want %q", i, b.Alias, want[i])
		}
	}
}
