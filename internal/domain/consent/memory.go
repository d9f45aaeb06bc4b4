package consent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is a thread-safe in-memory ledger used by tests and ephemeral
// deployments. Reads return copies, so a decision in flight always sees a
// consistent snapshot of each artefact.
type MemoryRepo struct {
	mu        sync.RWMutex
	artefacts map[uuid.UUID]*Artefact
	order     []uuid.UUID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{artefacts: make(map[uuid.UUID]*Artefact)}
}

func (r *MemoryRepo) Create(_ context.Context, a *Artefact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artefacts[a.ID] = a.clone()
	r.order = append(r.order, a.ID)
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Artefact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artefacts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (r *MemoryRepo) ListByPatientGrantee(_ context.Context, patientID uuid.UUID, granteeID string) ([]*Artefact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Artefact
	for _, id := range r.order {
		a := r.artefacts[id]
		if a.PatientID == patientID && a.GranteeID == granteeID {
			items = append(items, a.clone())
		}
	}
	// Newest grant first, matching the SQL ordering.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (r *MemoryRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Artefact, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Artefact
	for i := len(r.order) - 1; i >= 0; i-- {
		a := r.artefacts[r.order[i]]
		if a.PatientID == patientID {
			items = append(items, a.clone())
		}
	}
	total := len(items)
	if offset >= total {
		return []*Artefact{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (r *MemoryRepo) MarkRevoked(_ context.Context, id uuid.UUID, actor string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artefacts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status == StatusRevoked {
		return nil
	}
	at2 := at
	a.Status = StatusRevoked
	a.RevokedAt = &at2
	a.RevokedBy = actor
	return nil
}
