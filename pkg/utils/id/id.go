// Package id provides identifier generation for docchat.
//
//   - ULID: sortable ids for documents and temporary directories
//   - ChunkID: deterministic UUIDv5 per (document, position)
package id

import (
	"crypto/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ChunkNamespace is the UUIDv5 namespace for chunk identifiers.
var ChunkNamespace = uuid.MustParse("6f1c3b8e-2d4a-5e0f-9b7c-1a2d3e4f5a6b")

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a new lexicographically sortable identifier.
// Identifiers generated within the same millisecond stay ordered.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// IsULID reports whether s is a valid ULID string.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// NewUUID returns a random UUID v4 string.
func NewUUID() string {
	return uuid.NewString()
}

// ChunkID returns the identifier of the chunk at position in documentID.
// Re-ingesting the same document yields the same ids.
func ChunkID(documentID string, position int) string {
	return uuid.NewSHA1(ChunkNamespace, []byte(documentID+":"+strconv.Itoa(position))).String()
}
