package capability

import (
	"bytes"
	"context"
	"os"
	"runtime"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

// Built-in module names.
const (
	ModuleOS = "os"
	ModuleFS = "fs"
)

// OSModule exposes read-only facts about the host running the worker.
// Its default export is the module's own Namespace.
func OSModule() Module {
	exports := map[string]any{
		"arch":     func() string { return runtime.GOARCH },
		"platform": func() string { return runtime.GOOS },
		"numcpu":   func() int { return runtime.NumCPU() },
		"hostname": os.Hostname,
	}
	return Module{
		Name:    ModuleOS,
		Default: Namespace(exports),
		Exports: exports,
	}
}

// FSModule exposes storage access through fs. URLs may use any scheme afs
// supports (file://, mem://, ...). The default export is fs itself.
func FSModule(fs afs.Service) Module {
	if fs == nil {
		fs = afs.New()
	}
	return Module{
		Name:    ModuleFS,
		Default: fs,
		Exports: map[string]any{
			"read": func(ctx context.Context, url string) ([]byte, error) {
				return fs.DownloadWithURL(ctx, url)
			},
			"write": func(ctx context.Context, url string, data []byte) error {
				return fs.Upload(ctx, url, file.DefaultFileOsMode, bytes.NewReader(data))
			},
			"exists": func(ctx context.Context, url string) (bool, error) {
				return fs.Exists(ctx, url)
			},
			"list": func(ctx context.Context, url string) ([]string, error) {
				objects, err := fs.List(ctx, url)
				if err != nil {
					return nil, err
				}
				names := make([]string, 0, len(objects))
				for _, o := range objects {
					if o.URL() == url {
						continue
					}
					names = append(names, o.Name())
				}
				return names, nil
			},
		},
	}
}

// Builtin returns a registry holding the os and fs modules, with JSON data
// modules read through the same afs service.
func Builtin() *Registry {
	fs := afs.New()
	r := NewRegistry(OSModule(), FSModule(fs))
	r.SetDataFS(fs)
	return r
}
