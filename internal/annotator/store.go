package annotator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const dbFileMode = 0o644

// Store holds annotations keyed by document URI and then by the compact JSON
// form of their ranges. Every change rewrites the whole database file.
type Store struct {
	mu    sync.Mutex
	path  string
	state map[string]map[string]json.RawMessage
}

// OpenStore loads the database at path. A missing file yields an empty
// store; a file that is not a JSON object of objects is an error.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("annotation db path is required")
	}
	s := &Store{path: path, state: map[string]map[string]json.RawMessage{}}
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read annotation db: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse annotation db %s: %w", path, err)
	}
	if s.state == nil {
		s.state = map[string]map[string]json.RawMessage{}
	}
	return s, nil
}

// RangesKey derives the storage key from an annotation's ranges value.
func RangesKey(ranges json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(ranges)) == 0 {
		return "null", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, ranges); err != nil {
		return "", fmt.Errorf("compact ranges: %w", err)
	}
	return buf.String(), nil
}

// Put stores annotation under (uri, key), replacing any previous one, and
// persists the new state.
func (s *Store) Put(uri, key string, annotation json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRange, ok := s.state[uri]
	if !ok {
		byRange = map[string]json.RawMessage{}
		s.state[uri] = byRange
	}
	byRange[key] = append(json.RawMessage(nil), annotation...)
	return s.saveLocked()
}

// Delete removes the annotation under (uri, key) and persists the new state.
// A URI left without annotations is dropped.
func (s *Store) Delete(uri, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byRange, ok := s.state[uri]; ok {
		delete(byRange, key)
		if len(byRange) == 0 {
			delete(s.state, uri)
		}
	}
	return s.saveLocked()
}

// Rows returns the annotations recorded for uri ordered by ranges key.
func (s *Store) Rows(uri string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRange := s.state[uri]
	keys := make([]string, 0, len(byRange))
	for k := range byRange {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]json.RawMessage, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, byRange[k])
	}
	return rows
}

// URIs reports how many documents carry at least one annotation.
func (s *Store) URIs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state)
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal annotations: %w", err)
	}
	if err := writeFileAtomic(s.path, data, dbFileMode); err != nil {
		return fmt.Errorf("save annotations: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a partial database.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if syncErr := tmp.Sync(); syncErr != nil && err == nil {
		err = syncErr
	}
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, perm)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
