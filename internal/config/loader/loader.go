// Package loader reads cspell configuration files into generic maps.
//
// JSON, YAML and TOML files are supported. Files may pull in other files
// with an "import" key; imported values sit below the importing file's.
// Environment overrides are applied to the merged JSON document.
package loader

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem is an abstraction for file system operations.
type FileSystem interface {
	fs.FS
	// ReadFile reads the entire file at path.
	ReadFile(path string) ([]byte, error)
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// Open implements fs.FS.
func (OSFS) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// DefaultFS returns the default file system (OS).
func DefaultFS() FileSystem {
	return OSFS{}
}

// ConfigFileNames lists the file names searched for in each directory,
// in priority order.
var ConfigFileNames = []string{
	"cspell.json",
	".cspell.json",
	"cSpell.json",
	"cspell.yaml",
	"cspell.yml",
	".cspell.yaml",
	"cspell.toml",
}

// ImportKey names the setting holding files to import.
const ImportKey = "import"

// DefaultImportDepth bounds nested imports.
const DefaultImportDepth = 8

// Find returns the first configuration file in dir, or "" if there is none.
func Find(fsys FileSystem, dir string) string {
	for _, name := range ConfigFileNames {
		p := filepath.Join(dir, name)
		if info, err := fsys.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// FindUp searches dir and its parents for a configuration file, stopping
// after stop (when non-empty) or the file system root.
func FindUp(fsys FileSystem, dir, stop string) string {
	dir = filepath.Clean(dir)
	if stop != "" {
		stop = filepath.Clean(stop)
	}
	for {
		if p := Find(fsys, dir); p != "" {
			return p
		}
		if dir == stop {
			return ""
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithImports loads path and merges the files named by its import key
// beneath it. maxDepth limits nesting.
func LoadWithImports(fsys FileSystem, path string, maxDepth int) (map[string]any, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("import depth exceeded for %s", path)
	}

	config, err := LoadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, nil
	}

	imports, ok := config[ImportKey]
	if !ok {
		return config, nil
	}
	delete(config, ImportKey)

	var list []string
	switch v := imports.(type) {
	case string:
		list = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s: import must be string or array of strings", path)
			}
			list = append(list, s)
		}
	case []string:
		list = v
	default:
		return nil, fmt.Errorf("%s: import must be string or array of strings, got %T", path, imports)
	}

	baseDir := filepath.Dir(path)
	merged := map[string]any{}
	for _, imp := range list {
		impPath := imp
		if !filepath.IsAbs(imp) {
			impPath = filepath.Join(baseDir, imp)
		}
		impConfig, err := LoadWithImports(fsys, impPath, maxDepth-1)
		if err != nil {
			return nil, fmt.Errorf("loading import %s: %w", impPath, err)
		}
		merged = DeepMerge(merged, impConfig)
	}

	return DeepMerge(merged, config), nil
}

// readFile reads path, mapping a missing file to nil data.
func readFile(fsys FileSystem, path string) ([]byte, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return data, nil
}
