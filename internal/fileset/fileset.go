// Package fileset implements the file-collection substrate. Each storage
// context owns a collection of content-addressed file records; the chat
// transport carries textual placeholders while the bytes live behind the
// file handler. Records are encrypted at rest with a system layer and an
// optional per-context user layer.
package fileset

import (
	"context"
	"errors"
	"strconv"

	"github.com/cespare/xxhash/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrNotFound is returned when a record or context entry is absent.
	ErrNotFound = errors.New("not found")

	// ErrNoWriteContext is returned when an agent context has no target
	// for writes.
	ErrNoWriteContext = errors.New("agent context has no write target")
)

// Store persists one serialized record payload per (contextID, hash).
// Payloads are opaque to the store; encryption happens above it.
type Store interface {
	Put(ctx context.Context, contextID, hash, payload string) error
	Get(ctx context.Context, contextID, hash string) (string, error)
	List(ctx context.Context, contextID string) (map[string]string, error)
	Delete(ctx context.Context, contextID, hash string) error
	Close() error
}

const fileIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewFileID returns a fresh collection-unique file id.
func NewFileID() string {
	id, _ := gonanoid.Generate(fileIDAlphabet, 16)
	return id
}

// ContentHash returns the 64-bit xxhash of content in hex. Within one
// context a hash maps to at most one record, so duplicate uploads
// coalesce on it.
func ContentHash(content []byte) string {
	return strconv.FormatUint(xxhash.Sum64(content), 16)
}
