// Package history keeps a record of served predictions. Image bytes are
// never stored, only their SHA-256 digest.
package history

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Record is one served prediction.
type Record struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	SHA256     string    `json:"sha256"`
	Label      string    `json:"prediction"`
	ClassIndex int       `json:"class_index"`
	Confidence float32   `json:"confidence"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists prediction records.
type Store interface {
	Insert(rec *Record) error
	Recent(limit int) ([]Record, error)
	Count() (int, error)
	Close() error
}

// Digest returns the hex SHA-256 of an upload.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
