package directory

import (
	"context"
	"time"
)

// Repository is the persistence contract for the participant registry.
type Repository interface {
	Create(ctx context.Context, p *Participant) error
	GetByID(ctx context.Context, id string) (*Participant, error)
	// List returns participants ordered by name.
	List(ctx context.Context, limit, offset int) ([]*Participant, int, error)
	// ListVerifiedByCapability returns verified participants serving the
	// capability, ordered by id for deterministic fan-out.
	ListVerifiedByCapability(ctx context.Context, capability string) ([]*Participant, error)
	UpdateTrustStatus(ctx context.Context, id, status string) error
	// UpdateHealth sets the consecutive timeout counter and, on a response,
	// the last-seen timestamp.
	UpdateHealth(ctx context.Context, id string, consecutiveTimeouts int, seenAt *time.Time) error
	// IncrementTimeouts atomically bumps the consecutive timeout counter and
	// returns the participant as updated, so concurrent transactions never
	// lose an increment.
	IncrementTimeouts(ctx context.Context, id string) (*Participant, error)
}
