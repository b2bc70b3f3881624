// Package dedup detects receipts whose image bytes were already processed.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/expensobot/receipts-engine/internal/entity"
)

// Checksum returns the hex SHA-256 digest of raw image bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Lookup is the slice of the record store the guard needs.
type Lookup interface {
	FindByChecksum(ctx context.Context, digest string, excludingID uuid.UUID) (*entity.Receipt, error)
}

// Guard answers "has this exact image been processed under another receipt".
// Pure lookup; it never mutates anything.
type Guard struct {
	store Lookup
}

func NewGuard(store Lookup) *Guard {
	return &Guard{store: store}
}

// FindDuplicate returns the prior receipt carrying the same digest, or nil.
func (g *Guard) FindDuplicate(ctx context.Context, digest string, excludingID uuid.UUID) (*entity.Receipt, error) {
	return g.store.FindByChecksum(ctx, digest, excludingID)
}
