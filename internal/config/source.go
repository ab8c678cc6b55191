package config

import (
	"os"
	"path/filepath"
	"strings"
)

// KeyValue is a single decoded configuration payload: the raw bytes of
// one file plus the format (yaml/json) used to decode it.
type KeyValue struct {
	Key    string
	Format string
	Value  []byte
}

// Source produces configuration payloads. FileSource is the only
// implementation the proxy ships; additional sources (environment,
// remote) plug in through the same interface.
type Source interface {
	Load() ([]*KeyValue, error)
	// Path returns the filesystem path this source reads, or "" if it
	// has none to watch.
	Path() string
}

type fileSource struct {
	path string
}

// FileSource reads a single YAML or JSON file at path.
func FileSource(path string) Source {
	return &fileSource{path: path}
}

func (f *fileSource) Load() ([]*KeyValue, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	format := strings.TrimPrefix(filepath.Ext(f.path), ".")
	return []*KeyValue{{
		Key:    filepath.Base(f.path),
		Format: format,
		Value:  data,
	}}, nil
}

func (f *fileSource) Path() string {
	return f.path
}
