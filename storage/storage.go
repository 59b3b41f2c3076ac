// Package storage persists push subscription records for the registry.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vecindario/pushagent"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// Record is one registered device: the subscription snapshot plus the
// identity of the portal user it notifies. At most one active record exists
// per endpoint; the registry upserts on endpoint collisions.
type Record struct {
	ID           string                  `json:"id"`
	UserID       string                  `json:"user_id,omitempty"`
	UserName     string                  `json:"user_name,omitempty"`
	UserRole     string                  `json:"user_role,omitempty"`
	ComplexID    string                  `json:"complex_id,omitempty"`
	Subscription *pushagent.Subscription `json:"subscription"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Storage defines the registry's persistence interface.
type Storage interface {
	// Save stores or updates a record.
	Save(ctx context.Context, record *Record) error

	// Get retrieves a record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// GetByEndpoint retrieves a record by its push-service endpoint.
	GetByEndpoint(ctx context.Context, endpoint string) (*Record, error)

	// GetByUserID retrieves all records for a user.
	GetByUserID(ctx context.Context, userID string) ([]*Record, error)

	// Delete removes a record by ID.
	Delete(ctx context.Context, id string) error

	// DeleteByEndpoint removes a record by its endpoint.
	DeleteByEndpoint(ctx context.Context, endpoint string) error

	// DeleteByUserID removes all records for a user, returning the number
	// removed. Deregistration is identity-scoped because the device may
	// have lost its subscription object by the time it deregisters.
	DeleteByUserID(ctx context.Context, userID string) (int, error)

	// List returns records with pagination.
	List(ctx context.Context, limit, offset int) ([]*Record, error)

	// Close closes the storage connection.
	Close() error
}

func copyRecord(r *Record) *Record {
	cp := *r
	cp.Subscription = r.Subscription.Clone()
	return &cp
}
