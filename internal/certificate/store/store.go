// Package store persists certificate aggregates. Implementations must apply
// optimistic concurrency: Save fails with sentinel.ErrConflict when the
// stored version differs from the loaded one, and callers are expected to let
// the surrounding message redeliver rather than merge.
package store

import (
	"context"

	"printflow/internal/certificate/models"
)

// Store is the certificate repository.
type Store interface {
	// Get loads one aggregate by id. Returns sentinel.ErrNotFound when absent.
	Get(ctx context.Context, id string) (*models.Certificate, error)

	// Save inserts a new aggregate (Version zero) or updates an existing one
	// under a version check, bumping Version on success. A stale version
	// returns sentinel.ErrConflict and writes nothing.
	Save(ctx context.Context, cert *models.Certificate) error

	// FindByStatus returns certificates whose derived status matches, ordered
	// by creation time. The scheduler uses it to select the assignment pool.
	FindByStatus(ctx context.Context, status models.Status) ([]*models.Certificate, error)

	// FindByStatusAndBatchID returns certificates in the given status holding
	// a print request assigned to batchID.
	FindByStatusAndBatchID(ctx context.Context, status models.Status, batchID string) ([]*models.Certificate, error)

	// FindByRequestID locates the certificate owning a print request with the
	// provider-visible request id. Returns sentinel.ErrNotFound when no
	// certificate matches.
	FindByRequestID(ctx context.Context, requestID string) (*models.Certificate, error)
}
