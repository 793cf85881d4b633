// Package local writes archived posts and the batch summary to the local
// filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

var validID = regexp.MustCompile(`^[0-9]+$`)

// Config captures the parameters for the post store.
type Config struct {
	// BaseDir is the directory holding one sub-directory per post field.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// Field names the sub-directory posts are written to.
	Field string `mapstructure:"field" yaml:"field"`
}

// PostStore writes one s<id>.html file per archived record.
type PostStore struct {
	dir string
}

// New prepares <BaseDir>/<Field>, creating it when absent, and returns a
// store rooted there. An existing path that is not a directory is an error.
func New(cfg Config) (*PostStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if strings.TrimSpace(cfg.Field) == "" || strings.ContainsAny(cfg.Field, `/\`) || cfg.Field == ".." {
		return nil, fmt.Errorf("invalid post field %q", cfg.Field)
	}
	dir := filepath.Join(cfg.BaseDir, cfg.Field)

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.Mkdir(dir, dirMode); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %s is not a directory", dir)
	}

	return &PostStore{dir: dir}, nil
}

// Dir returns the directory posts are written to.
func (s *PostStore) Dir() string {
	return s.dir
}

// PostPath returns the file that holds the post of the given student.
func (s *PostStore) PostPath(id string) string {
	return filepath.Join(s.dir, PostFileName(id))
}

// PostFileName is the on-disk name of a student's post.
func PostFileName(id string) string {
	return "s" + id + ".html"
}

// Persist writes the outcome's on-disk form, replacing any earlier content.
func (s *PostStore) Persist(ctx context.Context, id string, outcome archive.Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid student id %q", id)
	}
	target := s.PostPath(id)
	if err := os.WriteFile(target, []byte(outcome.Content()), fileMode); err != nil {
		return fmt.Errorf("write post %s: %w", target, err)
	}
	return nil
}
