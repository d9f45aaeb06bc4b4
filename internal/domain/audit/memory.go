package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a thread-safe in-memory audit log for tests. It preserves
// the same contract as the Postgres repository: write-once entries and
// gap-free per-partition sequences.
type MemoryRepo struct {
	mu      sync.RWMutex
	entries []*Entry
	lastSeq map[string]int64

	// FailAppends simulates storage unavailability when set.
	FailAppends bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{lastSeq: make(map[string]int64)}
}

func (r *MemoryRepo) Append(_ context.Context, e *Entry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAppends {
		return 0, ErrUnavailable
	}

	seq := r.lastSeq[e.Partition] + 1
	r.lastSeq[e.Partition] = seq

	cp := *e
	cp.Sequence = seq
	r.entries = append(r.entries, &cp)

	e.Sequence = seq
	return seq, nil
}

func (r *MemoryRepo) QueryByPatient(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Entry
	for _, e := range r.entries {
		if e.PatientID != patientID {
			continue
		}
		if !from.IsZero() && e.Recorded.Before(from) {
			continue
		}
		if !to.IsZero() && e.Recorded.After(to) {
			continue
		}
		cp := *e
		items = append(items, &cp)
	}
	return items, nil
}

func (r *MemoryRepo) List(_ context.Context, partition string, reviewOnly bool, limit, offset int) ([]*Entry, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*Entry
	for _, e := range r.entries {
		if e.Partition != partition {
			continue
		}
		if reviewOnly && !e.ReviewRequired {
			continue
		}
		cp := *e
		filtered = append(filtered, &cp)
	}
	total := len(filtered)
	if offset >= total {
		return []*Entry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}
