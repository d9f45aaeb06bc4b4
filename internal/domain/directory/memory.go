package directory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is a thread-safe in-memory participant registry for tests.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[string]*Participant
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]*Participant)}
}

func (r *MemoryRepo) Create(_ context.Context, p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID] = p.clone()
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (r *MemoryRepo) List(_ context.Context, limit, offset int) ([]*Participant, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Participant, 0, len(r.items))
	for _, p := range r.items {
		all = append(all, p.clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	total := len(all)
	if offset >= total {
		return []*Participant{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *MemoryRepo) ListVerifiedByCapability(_ context.Context, capability string) ([]*Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Participant
	for _, p := range r.items {
		if p.TrustStatus == TrustVerified && p.HasCapability(capability) {
			items = append(items, p.clone())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *MemoryRepo) UpdateTrustStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	p.TrustStatus = status
	p.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepo) IncrementTimeouts(_ context.Context, id string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.ConsecutiveTimeouts++
	p.UpdatedAt = time.Now()
	return p.clone(), nil
}

func (r *MemoryRepo) UpdateHealth(_ context.Context, id string, consecutiveTimeouts int, seenAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	p.ConsecutiveTimeouts = consecutiveTimeouts
	if seenAt != nil {
		t := *seenAt
		p.LastSeenAt = &t
	}
	p.UpdatedAt = time.Now()
	return nil
}
