package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when the addressed object does not exist.
// Callers on delete paths treat it as an acceptable terminal state.
var ErrNotFound = errors.New("blob not found")

// Metadata is the best-effort JSON sidecar written next to the content
// object. It is never read on the serving path; the relational store
// stays authoritative.
type Metadata struct {
	Title           string    `json:"title"`
	Language        string    `json:"language"`
	LifetimeMinutes float64   `json:"lifetime"`
	IsPrivate       bool      `json:"is_private"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store is durable byte storage addressed by (pasteID, contentHash).
// Two implementations exist, local filesystem and S3-compatible object
// storage, interchangeable behind this contract.
type Store interface {
	Put(ctx context.Context, pasteID int64, content []byte) (string, error)
	Get(ctx context.Context, pasteID int64, contentHash string) ([]byte, error)
	Delete(ctx context.Context, pasteID int64, contentHash string) error
	PutMetadata(ctx context.Context, pasteID int64, meta *Metadata) error
	GetMetadata(ctx context.Context, pasteID int64) (*Metadata, error)
	DeleteMetadata(ctx context.Context, pasteID int64) error
}

// HashContent is the content digest used for blob addressing:
// hex-encoded SHA-256 of the raw bytes.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CacheKey is the key content caches use for a paste's bytes.
func CacheKey(pasteID int64, contentHash string) string {
	return fmt.Sprintf("%d/%s", pasteID, contentHash)
}
