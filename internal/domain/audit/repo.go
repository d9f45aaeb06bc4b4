package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for the audit log. There are no
// update or delete methods: entries are write-once by construction.
type Repository interface {
	// Append assigns the next sequence number in the entry's partition,
	// persists the entry, and returns the assigned sequence.
	Append(ctx context.Context, e *Entry) (int64, error)
	// QueryByPatient returns the patient's entries within [from, to],
	// ordered by ascending sequence. Zero times mean unbounded.
	QueryByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Entry, error)
	// List returns entries in a partition ordered by ascending sequence,
	// optionally restricted to those flagged for post-hoc review.
	List(ctx context.Context, partition string, reviewOnly bool, limit, offset int) ([]*Entry, int, error)
}
