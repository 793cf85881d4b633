// Package records reads per-student metadata files and turns them into
// archive records.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

// DefaultIDKey is the metadata attribute holding the student id.
const DefaultIDKey = "Matricola"

var validID = regexp.MustCompile(`^[0-9]+$`)

// Config controls which metadata files are considered.
type Config struct {
	Dir     string
	Exclude []string
	IDKey   string
}

// Source lists records from a directory holding one JSON file per student.
type Source struct {
	dir     string
	exclude map[string]struct{}
	idKey   string
	logger  *zap.Logger
}

// New builds a Source. The directory is only read when records are listed.
func New(cfg Config, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("records directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	idKey := cfg.IDKey
	if idKey == "" {
		idKey = DefaultIDKey
	}
	exclude := make(map[string]struct{}, len(cfg.Exclude))
	for _, name := range cfg.Exclude {
		exclude[name] = struct{}{}
	}
	return &Source{
		dir:     cfg.Dir,
		exclude: exclude,
		idKey:   idKey,
		logger:  logger,
	}, nil
}

// ListRecords returns one record per usable metadata file, in directory
// listing order. Only a failure to list the directory is returned as an
// error; unreadable or incomplete files are logged and skipped.
func (s *Source) ListRecords(ctx context.Context, field string) ([]archive.Record, error) {
	if field == "" {
		return nil, fmt.Errorf("post field is required")
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list records dir %s: %w", s.dir, err)
	}

	var out []archive.Record
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("list records canceled: %w", err)
		}
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		if _, skip := s.exclude[name]; skip {
			continue
		}
		s.logger.Info("reading student metadata", zap.String("file", name))
		rec, err := s.readRecord(name, field)
		if err != nil {
			s.logger.Warn("skipping student metadata", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Source) readRecord(name, field string) (archive.Record, error) {
	path := filepath.Join(s.dir, name)
	// #nosec G304 -- path is built from a directory listing of the configured data dir.
	data, err := os.ReadFile(path)
	if err != nil {
		return archive.Record{}, fmt.Errorf("read %s: %w", path, err)
	}
	var info map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		return archive.Record{}, fmt.Errorf("parse %s: %w", name, err)
	}

	id, err := stringValue(info[s.idKey])
	if err != nil {
		return archive.Record{}, fmt.Errorf("%s: %w", s.idKey, err)
	}
	if !validID.MatchString(id) {
		return archive.Record{}, fmt.Errorf("invalid student id %q", id)
	}
	target, err := stringValue(info[field])
	if err != nil {
		return archive.Record{}, fmt.Errorf("%s: %w", field, err)
	}
	return archive.Record{ID: id, TargetURL: target, Source: name}, nil
}

func stringValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", fmt.Errorf("missing")
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return "", fmt.Errorf("empty")
		}
		return val, nil
	case json.Number:
		return val.String(), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
