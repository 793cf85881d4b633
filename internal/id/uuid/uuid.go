// Package uuid generates batch identifiers.
package uuid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 batch IDs. They sort by creation time, so ledger
// rows and notifications from consecutive runs order naturally.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// CreatedAt extracts the creation time embedded in a batch ID.
func CreatedAt(batchID string) (time.Time, error) {
	id, err := uuid.Parse(batchID)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse batch id: %w", err)
	}
	if id.Version() != 7 {
		return time.Time{}, fmt.Errorf("batch id %s is not a version 7 uuid", batchID)
	}
	sec, nsec := id.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
