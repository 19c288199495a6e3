// Package snapshot reads pattern snapshots from YAML or TOML files.
//
// A snapshot is either a single file or a directory of *.yaml, *.yml and
// *.toml files, read in lexical order and concatenated. Each file holds a
// document of the form:
//
//	version: "2026-03-01"
//	patterns:
//	  - id: go-retry-backoff
//	    type: reusable-pattern
//	    ...
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/patternd/internal/pattern"
)

// MaxFileSize bounds a single snapshot file.
const MaxFileSize = 64 << 20

// Snapshot errors.
var (
	ErrFileTooLarge = errors.New("snapshot file too large")
	ErrNoFiles      = errors.New("no snapshot files found")
)

// File is the on-disk document.
type File struct {
	Version  string         `json:"version,omitempty" yaml:"version,omitempty"`
	Patterns []pattern.Meta `json:"patterns" yaml:"patterns"`
}

// Load reads the snapshot at path, which may be a file or a directory.
// Entries are returned unvalidated; the engine skips invalid ones.
func Load(path string) ([]pattern.Meta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}
	if !info.IsDir() {
		f, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		return f.Patterns, nil
	}

	files, err := Files(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, path)
	}

	var out []pattern.Meta
	for _, name := range files {
		f, err := loadFile(name)
		if err != nil {
			return nil, err
		}
		out = append(out, f.Patterns...)
	}
	return out, nil
}

// Files lists the snapshot files of a directory in lexical order.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsSnapshotFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsSnapshotFile reports whether name has a snapshot file extension.
// Hidden files are ignored.
func IsSnapshotFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	return ext == ".yaml" || ext == ".yml" || ext == ".toml"
}

func loadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer fh.Close()

	data, err := io.ReadAll(io.LimitReader(fh, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, path, MaxFileSize)
	}

	decode := Decode
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		decode = DecodeTOML
	}
	f, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot %s: %w", path, err)
	}
	return f, nil
}

// Decode parses one snapshot document. Unknown fields are rejected so that
// misspelled keys do not silently drop scope or trust data.
func Decode(data []byte) (*File, error) {
	var f File
	if len(bytes.TrimSpace(data)) == 0 {
		return &f, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &f, nil
}

// DecodeTOML parses one TOML snapshot document. TOML tables are mapped onto
// the same field names as YAML through their JSON form.
func DecodeTOML(data []byte) (*File, error) {
	var f File
	if len(bytes.TrimSpace(data)) == 0 {
		return &f, nil
	}
	var raw map[string]any
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encoding toml: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}
