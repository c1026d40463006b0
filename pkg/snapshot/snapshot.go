// Package snapshot exports the configuration map to a file so operators can
// inspect the last synchronized state without talking to the service.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Exporter writes the configuration map as YAML to a fixed path. Writes go
// through a temp file in the same directory followed by a rename, so readers
// never observe a half-written snapshot.
type Exporter struct {
	// mu serializes exports so overlapping reload notifications cannot
	// interleave their writes.
	mu   sync.Mutex
	path string
}

func NewExporter(path string) (*Exporter, error) {
	fileInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	if !fileInfo.IsDir() {
		return nil, fmt.Errorf("snapshot path parent is not a directory")
	}
	return &Exporter{path: path}, nil
}

// Export replaces the snapshot file with the given map encoded as YAML. Map
// keys come out sorted, so identical maps produce identical files.
func (e *Exporter) Export(data map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("error marshalling snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.path), filepath.Base(e.path)+".tmp")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path); err != nil {
		return fmt.Errorf("error replacing snapshot file: %w", err)
	}
	return nil
}

// Path returns the configured snapshot file location.
func (e *Exporter) Path() string {
	return e.path
}
