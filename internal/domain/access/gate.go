package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uhi/gateway/internal/domain/audit"
)

// ResourceFetcher is the clinical-data store collaborator. The gate is the
// only caller, and only after a positive decision.
type ResourceFetcher interface {
	FetchResource(ctx context.Context, resourceType, resourceID string) (interface{}, error)
}

// Result is what the gate returns to the caller: the decision always, the
// payload only when released.
type Result struct {
	Decision *Decision   `json:"decision"`
	Resource interface{} `json:"resource,omitempty"`
}

// Gate wraps the clinical-data store and refuses to release any payload
// without a positive decision. Every call produces exactly one audit entry,
// written before any data release. It evaluates the engine on every single
// call; consent can be revoked between calls, so "allowed" is never cached.
type Gate struct {
	engine  *Engine
	auditor *audit.Service
	fetcher ResourceFetcher
	logger  zerolog.Logger
}

func NewGate(engine *Engine, auditor *audit.Service, fetcher ResourceFetcher, logger zerolog.Logger) *Gate {
	return &Gate{engine: engine, auditor: auditor, fetcher: fetcher, logger: logger}
}

// Request evaluates, audits, and only then fetches. An audit failure is
// fatal: no data may leave the gate whose access was not durably recorded.
func (g *Gate) Request(ctx context.Context, req DecisionRequest) (*Result, error) {
	d, err := g.engine.Decide(ctx, req)
	if err != nil {
		return nil, err
	}

	entry := &audit.Entry{
		Actor:            d.Requester,
		PatientID:        d.PatientID,
		ResourceType:     d.ResourceType,
		Outcome:          d.Outcome,
		MatchedConsentID: d.MatchedConsentID,
		Reason:           d.Reason,
		Justification:    req.Justification,
		ReviewRequired:   d.ReviewRequired,
		Recorded:         d.Timestamp,
	}
	seq, err := g.auditor.Append(ctx, entry)
	if err != nil {
		if errors.Is(err, audit.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
		}
		return nil, err
	}

	if d.Outcome == OutcomeAllowedEmergency {
		g.logger.Warn().
			Str("requester", d.Requester).
			Str("patient_id", d.PatientID.String()).
			Str("resource_type", d.ResourceType).
			Int64("audit_sequence", seq).
			Msg("emergency override recorded, flagged for review")
	}

	res := &Result{Decision: d}
	if !d.Allowed() {
		return res, nil
	}

	payload, err := g.fetcher.FetchResource(ctx, req.ResourceType, req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("fetch resource: %w", err)
	}
	res.Resource = payload
	return res, nil
}
