package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
)

// DataSuffix marks a module name as a JSON data file rather than a
// registered module.
const DataSuffix = ".json"

// IsDataModule reports whether name refers to a JSON data file.
func IsDataModule(name string) bool {
	return strings.HasSuffix(name, DataSuffix)
}

// LoadDataModule reads the JSON document at name through fs. The document is
// the default export; when it is an object, its top-level keys are also the
// named exports. Values stay JSON-encoded. A name without a scheme is a
// local path, relative to the working directory of the worker.
func LoadDataModule(ctx context.Context, fs afs.Service, name string) (Module, error) {
	data, err := fs.DownloadWithURL(ctx, dataURL(name))
	if err != nil {
		return Module{}, fmt.Errorf("load data module %q: %w", name, err)
	}
	if !json.Valid(data) {
		return Module{}, fmt.Errorf("data module %q: invalid JSON", name)
	}

	m := Module{
		Name:    name,
		Default: json.RawMessage(data),
		Exports: make(map[string]any),
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err == nil {
		for k, v := range fields {
			m.Exports[k] = v
		}
	}
	return m, nil
}

func dataURL(name string) string {
	if strings.Contains(name, "://") {
		return name
	}
	if abs, err := filepath.Abs(name); err == nil {
		name = abs
	}
	return "file://" + filepath.ToSlash(name)
}
