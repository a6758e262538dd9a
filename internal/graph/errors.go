package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by lookups that require the entity to exist.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicateKey is returned when a write would violate a natural key.
	ErrDuplicateKey = errors.New("duplicate natural key")
	// ErrInvalidEdge is returned when an edge does not match its table's spec.
	ErrInvalidEdge = errors.New("invalid edge")
	// ErrInvalidFact marks a parsed fact missing a required attribute.
	ErrInvalidFact = errors.New("invalid fact")
	// ErrResolutionConflict is returned when a resolved row does not carry
	// the natural key it was resolved by.
	ErrResolutionConflict = errors.New("resolution conflict")
	// ErrStoreUnavailable wraps backend failures that may succeed on retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownRelation is returned by projections naming an unknown relation.
	ErrUnknownRelation = errors.New("unknown relation")
	// ErrTxDone is returned by operations on a committed or rolled back
	// transaction.
	ErrTxDone = errors.New("transaction already finished")
)

// FactError describes one skipped entity.
type FactError struct {
	Kind   Kind   `json:"kind"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func (e *FactError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Kind, e.Name, e.Reason)
}

func (e *FactError) Unwrap() error { return ErrInvalidFact }

// IngestError reports a file whose ingestion failed. Nothing of the file's
// transaction was committed.
type IngestError struct {
	Path string
	Err  error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
