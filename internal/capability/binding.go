package capability

import (
	"fmt"
	"sort"
	"strings"
)

// Special export names.
const (
	ExportDefault = "default"
	ExportAll     = "*"
)

// Binding is a resolved binding spec: export Export of module Module is made
// available to the work unit under Alias.
type Binding struct {
	Module string `json:"module"`
	Export string `json:"export"`
	Alias  string `json:"alias"`
}

// ParseSpec parses a single binding spec for module.
// Bare "default" and "*" bind under the module name.
func ParseSpec(module, spec string) (Binding, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Binding{}, fmt.Errorf("empty binding spec for module %q", module)
	}

	export, alias := spec, ""
	if before, after, ok := strings.Cut(spec, " as "); ok {
		export, alias = strings.TrimSpace(before), strings.TrimSpace(after)
		if alias == "" {
			return Binding{}, fmt.Errorf("binding spec %q for module %q: missing alias", spec, module)
		}
	}
	if export == "" || strings.ContainsAny(export, " \t") {
		return Binding{}, fmt.Errorf("binding spec %q for module %q: invalid export", spec, module)
	}
	if strings.ContainsAny(alias, " \t") {
		return Binding{}, fmt.Errorf("binding spec %q for module %q: invalid alias", spec, module)
	}

	if alias == "" {
		switch export {
		case ExportDefault, ExportAll:
			alias = module
		default:
			alias = export
		}
	}

	return Binding{Module: module, Export: export, Alias: alias}, nil
}

// ParseSpecs parses a module → specs mapping. The result is ordered by module
// then by spec position; an alias bound twice is an error.
func ParseSpecs(specs map[string][]string) ([]Binding, error) {
	modules := make([]string, 0, len(specs))
	for m := range specs {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	var bindings []Binding
	seen := make(map[string]string)
	for _, m := range modules {
		for _, spec := range specs[m] {
			b, err := ParseSpec(m, spec)
			if err != nil {
				return nil, err
			}
			if prev, ok := seen[b.Alias]; ok {
				return nil, fmt.Errorf("alias %q bound by both %q and %q", b.Alias, prev, m)
			}
			seen[b.Alias] = m
			bindings = append(bindings, b)
		}
	}
	return bindings, nil
}
