package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service owns consent ledger semantics: grant validation, irreversible
// revocation, and active-artefact resolution with derived expiry.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// NewServiceWithClock injects a deterministic clock for tests.
func NewServiceWithClock(repo Repository, now func() time.Time) *Service {
	return &Service{repo: repo, now: now}
}

// Grant records a new consent artefact. DataTypes must be non-empty and the
// expiry, when present, must lie in the future.
func (s *Service) Grant(ctx context.Context, patientID uuid.UUID, granteeID string, dataTypes []string, purpose string, expiresAt *time.Time) (*Artefact, error) {
	if len(dataTypes) == 0 {
		return nil, fmt.Errorf("%w: data types must not be empty", ErrInvalidConsent)
	}
	if granteeID == "" {
		return nil, fmt.Errorf("%w: grantee is required", ErrInvalidConsent)
	}
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry %s is in the past", ErrInvalidConsent, expiresAt.Format(time.RFC3339))
	}

	a := &Artefact{
		ID:        uuid.New(),
		PatientID: patientID,
		GranteeID: granteeID,
		DataTypes: append([]string(nil), dataTypes...),
		Purpose:   purpose,
		GrantedAt: now,
		ExpiresAt: expiresAt,
		Status:    StatusActive,
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Revoke terminates an artefact immediately and irreversibly. Revoking an
// already-revoked artefact is a no-op; decisions returned before the
// revocation are not retroactively invalidated, but every subsequent lookup
// sees it.
func (s *Service) Revoke(ctx context.Context, artefactID uuid.UUID, actor string) error {
	return s.repo.MarkRevoked(ctx, artefactID, actor, s.now())
}

// Get returns a single artefact by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Artefact, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByPatient returns the patient's artefacts, newest grant first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Artefact, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// FindActive returns the most recently granted artefact for the pair that is
// non-revoked, non-expired as of asOf, and whose data type set contains
// resourceType. Ties on granted_at resolve to the latest created. Returns
// (nil, nil) when no artefact qualifies.
//
// When a patient holds multiple simultaneous active consents to the same
// grantee and resource type with different expiries, the most recently
// granted one wins. That is a policy decision, not a protocol requirement.
func (s *Service) FindActive(ctx context.Context, patientID uuid.UUID, granteeID, resourceType string, asOf time.Time) (*Artefact, error) {
	candidates, err := s.repo.ListByPatientGrantee(ctx, patientID, granteeID)
	if err != nil {
		return nil, err
	}
	for _, a := range candidates {
		if a.IsActive(asOf) && a.Covers(resourceType) {
			return a, nil
		}
	}
	return nil, nil
}
