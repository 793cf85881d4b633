// Package gcs mirrors archived posts to a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
)

const contentType = "text/html; charset=utf-8"

// Config captures the parameters required to mirror to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name; empty means the bucket root.
	Prefix string
}

// Mirror uploads every archived post to <prefix>/<field>/s<id>.html.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Connect creates a client using Application Default Credentials and checks
// that the bucket is reachable, so a misconfiguration fails the batch before
// any record is fetched.
func Connect(ctx context.Context, bucket string, logger *zap.Logger) (*storage.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}
	return client, nil
}

// ObjectName returns the object an entry is stored under.
func (m *Mirror) ObjectName(entry archive.Entry) string {
	return path.Join(m.prefix, entry.Field, "s"+entry.StudentID+".html")
}

// Mirror uploads the entry's on-disk content along with its provenance as
// object metadata.
func (m *Mirror) Mirror(ctx context.Context, entry archive.Entry) error {
	if entry.Field == "" || entry.StudentID == "" {
		return fmt.Errorf("entry field and student id are required")
	}
	name := m.ObjectName(entry)
	_, err := m.putObject(ctx, name, bytes.NewReader(entry.Content), map[string]string{
		"batch_id":     entry.BatchID,
		"student_id":   entry.StudentID,
		"target_url":   entry.TargetURL,
		"ok":           strconv.FormatBool(entry.OK),
		"content_hash": entry.ContentHash,
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", name, err)
	}
	return nil
}

// putObject uploads data and returns a gs:// URI.
func (m *Mirror) putObject(ctx context.Context, name string, r io.Reader, metadata map[string]string) (string, error) {
	writer := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = metadata
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, name), nil
}
