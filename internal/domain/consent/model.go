package consent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Artefact statuses. Expired is derived at read time: an artefact whose
// expiry has passed is treated as expired regardless of the stored value.
const (
	StatusActive  = "active"
	StatusRevoked = "revoked"
	StatusExpired = "expired"
)

var (
	// ErrInvalidConsent is returned for bad grant parameters: an empty data
	// type set or an expiry already in the past. Caller error, not retried.
	ErrInvalidConsent = errors.New("invalid consent parameters")

	// ErrNotFound is returned when the referenced artefact does not exist.
	ErrNotFound = errors.New("consent artefact not found")
)

// Artefact is a time-bounded grant of data-sharing permission from a patient
// to a requesting party. Artefacts are never physically deleted; they are
// superseded by new grants or terminated by revocation or expiry.
type Artefact struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	GranteeID string     `db:"grantee_id" json:"grantee_id"`
	DataTypes []string   `db:"data_types" json:"data_types"`
	Purpose   string     `db:"purpose" json:"purpose"`
	GrantedAt time.Time  `db:"granted_at" json:"granted_at"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	Status    string     `db:"status" json:"status"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedBy string     `db:"revoked_by" json:"revoked_by,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// EffectiveStatus derives the artefact status as of the given instant.
// Revocation is terminal; a stored active artefact past its expiry reads as
// expired.
func (a *Artefact) EffectiveStatus(asOf time.Time) string {
	if a.Status == StatusRevoked {
		return StatusRevoked
	}
	if a.ExpiresAt != nil && !a.ExpiresAt.After(asOf) {
		return StatusExpired
	}
	return a.Status
}

// IsActive reports whether the artefact is usable for an access decision as
// of the given instant.
func (a *Artefact) IsActive(asOf time.Time) bool {
	return a.EffectiveStatus(asOf) == StatusActive
}

// Covers reports whether the artefact's data type set includes resourceType.
func (a *Artefact) Covers(resourceType string) bool {
	for _, dt := range a.DataTypes {
		if dt == resourceType {
			return true
		}
	}
	return false
}

// clone returns a copy so callers never share slices with stored state.
func (a *Artefact) clone() *Artefact {
	cp := *a
	cp.DataTypes = append([]string(nil), a.DataTypes...)
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		cp.ExpiresAt = &t
	}
	if a.RevokedAt != nil {
		t := *a.RevokedAt
		cp.RevokedAt = &t
	}
	return &cp
}
