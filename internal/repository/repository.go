package repository

import (
	"context"

	"modbusmgr/internal/domain"
)

// Store persists the confirmed part of the known-peripheral table
type Store interface {
	// Load returns every stored peripheral
	Load(ctx context.Context) ([]domain.KnownPeripheral, error)

	// Save inserts or replaces the entry for p.Identity
	Save(ctx context.Context, p domain.KnownPeripheral) error

	// Delete removes the entry for id. Deleting a missing entry is not an error.
	Delete(ctx context.Context, id domain.Identity) error

	// Close releases resources
	Close() error
}
