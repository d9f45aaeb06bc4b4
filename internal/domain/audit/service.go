package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service fronts the audit log. It adds nothing on top of the repository
// beyond defaulting the partition; the strictness lives in the repo contract.
type Service struct {
	repo      Repository
	partition string
}

func NewService(repo Repository, partition string) *Service {
	if partition == "" {
		partition = "default"
	}
	return &Service{repo: repo, partition: partition}
}

// Partition returns the log partition this service writes to.
func (s *Service) Partition() string {
	return s.partition
}

// Append durably records an entry and returns its sequence number. A failure
// here must abort the calling access attempt.
func (s *Service) Append(ctx context.Context, e *Entry) (int64, error) {
	if e.Partition == "" {
		e.Partition = s.partition
	}
	if e.Recorded.IsZero() {
		e.Recorded = time.Now()
	}
	return s.repo.Append(ctx, e)
}

// QueryByPatient returns a patient's audit trail within the given range.
func (s *Service) QueryByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Entry, error) {
	return s.repo.QueryByPatient(ctx, patientID, from, to)
}

// List returns entries in this service's partition, optionally only those
// awaiting post-hoc review.
func (s *Service) List(ctx context.Context, reviewOnly bool, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, s.partition, reviewOnly, limit, offset)
}
