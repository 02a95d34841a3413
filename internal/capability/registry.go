package capability

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/viant/afs"
)

var (
	// ErrUnknownModule is returned when a binding names an unregistered module.
	ErrUnknownModule = errors.New("unknown capability module")

	// ErrUnknownExport is returned when a binding names an export the module lacks.
	ErrUnknownExport = errors.New("unknown capability export")
)

// Module is a named capability: a default export plus named exports.
type Module struct {
	Name    string
	Default any
	Exports map[string]any
}

// Namespace is what a "*" binding yields: every named export, plus the
// default export under "default" when the module has one.
type Namespace map[string]any

// Registry holds the capability modules available to work units.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
	data    afs.Service
}

// NewRegistry creates a registry holding the given modules.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{modules: make(map[string]Module)}
	for _, m := range modules {
		r.Register(m)
	}
	return r
}

// Register adds or replaces a module.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[m.Name] = m
}

// SetDataFS enables JSON data modules, loaded through fs. Registered modules
// take precedence over data files of the same name.
func (r *Registry) SetDataFS(fs afs.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = fs
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve parses specs and checks every binding against the registered
// modules. Data modules are read where the work runs, so their bindings are
// only checked by Materialize. Resolve does not materialize anything.
func (r *Registry) Resolve(specs map[string][]string) ([]Binding, error) {
	bindings, err := ParseSpecs(specs)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		m, ok, err := r.module(b.Module)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, err := m.export(b); err != nil {
			return nil, err
		}
	}
	return bindings, nil
}

// Materialize turns resolved bindings into an alias → reference namespace.
// Each data module is loaded once per call.
func (r *Registry) Materialize(bindings []Binding) (map[string]any, error) {
	ns := make(map[string]any, len(bindings))
	loaded := make(map[string]Module)
	for _, b := range bindings {
		m, ok := loaded[b.Module]
		if !ok {
			var err error
			if m, err = r.load(b.Module); err != nil {
				return nil, err
			}
			loaded[b.Module] = m
		}
		v, err := m.export(b)
		if err != nil {
			return nil, err
		}
		ns[b.Alias] = v
	}
	return ns, nil
}

// module returns the registered module name. ok is false for a data module
// left to load later.
func (r *Registry) module(name string) (Module, bool, error) {
	r.mu.RLock()
	m, found := r.modules[name]
	data := r.data
	r.mu.RUnlock()
	switch {
	case found:
		return m, true, nil
	case data != nil && IsDataModule(name):
		return Module{}, false, nil
	default:
		return Module{}, false, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
}

func (r *Registry) load(name string) (Module, error) {
	m, ok, err := r.module(name)
	if err != nil || ok {
		return m, err
	}
	r.mu.RLock()
	data := r.data
	r.mu.RUnlock()
	return LoadDataModule(context.Background(), data, name)
}

func (m Module) export(b Binding) (any, error) {
	switch b.Export {
	case ExportAll:
		ns := make(Namespace, len(m.Exports)+1)
		maps.Copy(ns, m.Exports)
		if m.Default != nil {
			ns[ExportDefault] = m.Default
		}
		return ns, nil
	case ExportDefault:
		if m.Default == nil {
			return nil, fmt.Errorf("%w: module %q has no default export", ErrUnknownExport, b.Module)
		}
		return m.Default, nil
	default:
		v, ok := m.Exports[b.Export]
		if !ok {
			return nil, fmt.Errorf("%w: %q in module %q", ErrUnknownExport, b.Export, b.Module)
		}
		return v, nil
	}
}
