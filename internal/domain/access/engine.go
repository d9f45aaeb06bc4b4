package access

import (
	"context"
	"fmt"
	"time"

	"github.com/uhi/gateway/internal/domain/consent"
	"github.com/uhi/gateway/internal/platform/auth"
)

// Engine evaluates access requests against the consent ledger. It holds no
// mutable state of its own: given an identical ledger snapshot and timestamp,
// two evaluations yield identical decisions, so it is safe to call
// concurrently without coordination.
type Engine struct {
	consents *consent.Service
	now      func() time.Time
}

func NewEngine(consents *consent.Service) *Engine {
	return &Engine{consents: consents, now: time.Now}
}

// NewEngineWithClock injects a deterministic clock for tests.
func NewEngineWithClock(consents *consent.Service, now func() time.Time) *Engine {
	return &Engine{consents: consents, now: now}
}

// Decide evaluates one access request. The precedence is fixed: an active
// covering consent wins, then a justified emergency override by a clinical
// role, then denial. The emergency path never consults the ledger outcome it
// bypasses, but it always flags the decision for post-hoc review.
func (e *Engine) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	now := e.now()
	d := &Decision{
		Requester:    req.Requester,
		PatientID:    req.PatientID,
		ResourceType: req.ResourceType,
		Timestamp:    now,
	}

	artefact, err := e.consents.FindActive(ctx, req.PatientID, req.Requester, req.ResourceType, now)
	if err != nil {
		return nil, fmt.Errorf("consent lookup: %w", err)
	}
	if artefact != nil {
		d.Outcome = OutcomeAllowed
		id := artefact.ID
		d.MatchedConsentID = &id
		d.Reason = fmt.Sprintf("active consent %s covers %s", artefact.ID, req.ResourceType)
		return d, nil
	}

	if req.EmergencyOverride {
		if !auth.HasClinicalRole(req.RequesterRoles) {
			d.Outcome = OutcomeDenied
			d.Reason = "emergency override requires a clinical role"
			return d, nil
		}
		if req.Justification == "" {
			return nil, ErrMissingJustification
		}
		d.Outcome = OutcomeAllowedEmergency
		d.Reason = "emergency override: " + req.Justification
		d.ReviewRequired = true
		return d, nil
	}

	d.Outcome = OutcomeDenied
	d.Reason = "no active consent found"
	return d, nil
}
