package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for the consent ledger. The ledger
// is append-friendly: artefacts are created and revoked, never deleted.
type Repository interface {
	Create(ctx context.Context, a *Artefact) error
	GetByID(ctx context.Context, id uuid.UUID) (*Artefact, error)
	// ListByPatientGrantee returns all artefacts for the pair ordered by
	// granted_at descending. Status filtering is the service's concern since
	// expiry is derived at read time.
	ListByPatientGrantee(ctx context.Context, patientID uuid.UUID, granteeID string) ([]*Artefact, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Artefact, int, error)
	// MarkRevoked records revocation. It is a no-op when the artefact is
	// already revoked, so revocation can never be undone by a racing call.
	MarkRevoked(ctx context.Context, id uuid.UUID, actor string, at time.Time) error
}
