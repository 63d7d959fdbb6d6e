// Package uuid generates batch and retrieval identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements fetch.IDGenerator with time-ordered UUIDv7 values, so
// retrieval rows sort by creation time.
type Generator struct{}

// New returns a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s parses as a UUID. The API uses it to vet caller-supplied batch ids.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
