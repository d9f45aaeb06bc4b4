package access

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	OutcomeAllowed          = "allowed"
	OutcomeAllowedEmergency = "allowed_emergency"
	OutcomeDenied           = "denied"
)

var (
	// ErrMissingJustification rejects an emergency override asserted without
	// a non-empty justification.
	ErrMissingJustification = errors.New("emergency override requires justification")
	// ErrAuditUnavailable aborts an access whose audit entry could not be
	// durably recorded.
	ErrAuditUnavailable = errors.New("access aborted: audit log unavailable")
)

// DecisionRequest carries everything the engine needs to evaluate one access.
type DecisionRequest struct {
	Requester         string    `json:"requester"`
	RequesterRoles    []string  `json:"-"`
	PatientID         uuid.UUID `json:"patient_id"`
	ResourceType      string    `json:"resource_type"`
	ResourceID        string    `json:"resource_id,omitempty"`
	EmergencyOverride bool      `json:"emergency_override,omitempty"`
	Justification     string    `json:"justification,omitempty"`
}

// Decision is the transient result of one evaluation. It is never persisted
// directly; the audit log records it.
type Decision struct {
	Requester        string     `json:"requester"`
	PatientID        uuid.UUID  `json:"patient_id"`
	ResourceType     string     `json:"resource_type"`
	Timestamp        time.Time  `json:"timestamp"`
	Outcome          string     `json:"outcome"`
	MatchedConsentID *uuid.UUID `json:"matched_consent_id,omitempty"`
	Reason           string     `json:"reason"`
	ReviewRequired   bool       `json:"review_required,omitempty"`
}

// Allowed reports whether the decision permits release of data.
func (d *Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed || d.Outcome == OutcomeAllowedEmergency
}
