package directory

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Service owns the participant registry and its health bookkeeping. The
// federation engine reports per-participant outcomes after each transaction;
// the service demotes a verified participant once its consecutive timeout
// count reaches the suspend threshold.
type Service struct {
	repo             Repository
	suspendThreshold int
	logger           zerolog.Logger
	now              func() time.Time
}

func NewService(repo Repository, suspendThreshold int, logger zerolog.Logger) *Service {
	if suspendThreshold <= 0 {
		suspendThreshold = 3
	}
	return &Service{repo: repo, suspendThreshold: suspendThreshold, logger: logger, now: time.Now}
}

// Register adds a participant to the directory. New participants start
// unverified; an operator promotes them once onboarding checks pass.
func (s *Service) Register(ctx context.Context, p *Participant) (*Participant, error) {
	if p.ID == "" || p.Name == "" {
		return nil, fmt.Errorf("%w: id and name are required", ErrInvalidParticipant)
	}
	if _, err := url.ParseRequestURI(p.CallbackURL); err != nil {
		return nil, fmt.Errorf("%w: callback url: %v", ErrInvalidParticipant, err)
	}
	if len(p.Capabilities) == 0 {
		return nil, fmt.Errorf("%w: at least one capability is required", ErrInvalidParticipant)
	}
	if p.TrustStatus == "" {
		p.TrustStatus = TrustUnverified
	}
	if !validTrustStatus(p.TrustStatus) {
		return nil, fmt.Errorf("%w: unknown trust status %q", ErrInvalidParticipant, p.TrustStatus)
	}
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Participant, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Participant, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ListVerifiedByCapability returns the fan-out set for a search capability.
func (s *Service) ListVerifiedByCapability(ctx context.Context, capability string) ([]*Participant, error) {
	return s.repo.ListVerifiedByCapability(ctx, capability)
}

// UpdateTrustStatus sets a participant's trust status. Promoting a suspended
// participant back to verified also clears its timeout counter.
func (s *Service) UpdateTrustStatus(ctx context.Context, id, status string) error {
	if !validTrustStatus(status) {
		return fmt.Errorf("%w: unknown trust status %q", ErrInvalidParticipant, status)
	}
	if err := s.repo.UpdateTrustStatus(ctx, id, status); err != nil {
		return err
	}
	if status == TrustVerified {
		return s.repo.UpdateHealth(ctx, id, 0, nil)
	}
	return nil
}

// RecordOutcome updates the participant's health counter after a transaction.
// A response resets the counter and stamps last-seen; a timeout increments
// it, and a verified participant crossing the threshold is suspended.
func (s *Service) RecordOutcome(ctx context.Context, id string, timedOut bool) error {
	if !timedOut {
		seen := s.now()
		return s.repo.UpdateHealth(ctx, id, 0, &seen)
	}

	p, err := s.repo.IncrementTimeouts(ctx, id)
	if err != nil {
		return err
	}
	if p.ConsecutiveTimeouts >= s.suspendThreshold && p.TrustStatus == TrustVerified {
		if err := s.repo.UpdateTrustStatus(ctx, id, TrustSuspended); err != nil {
			return err
		}
		s.logger.Warn().
			Str("participant_id", id).
			Int("consecutive_timeouts", p.ConsecutiveTimeouts).
			Msg("participant suspended after repeated timeouts")
	}
	return nil
}
