package federation

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Outcome is the per-participant result of a finished transaction, fed back
// to the directory's health counters.
type Outcome struct {
	ParticipantID string
	TimedOut      bool
}

// Correlator is the lookup table matching asynchronous callbacks to their
// transactions. It is the only mutable state shared between transactions;
// every transition — callback accept, deadline close, cancel, sweep — happens
// under its single mutex, so a callback racing the deadline is classified
// exactly once: accepted just in time or dropped as late, never both.
type Correlator struct {
	mu   sync.Mutex
	txns map[string]*Transaction
	now  func() time.Time
}

func NewCorrelator() *Correlator {
	return &Correlator{txns: make(map[string]*Transaction), now: time.Now}
}

// NewCorrelatorWithClock injects a deterministic clock for tests.
func NewCorrelatorWithClock(now func() time.Time) *Correlator {
	return &Correlator{txns: make(map[string]*Transaction), now: now}
}

// Register adds an open transaction to the table.
func (c *Correlator) Register(t *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txns[t.ID] = t
}

// Accept classifies an inbound callback. It returns nil when the response was
// recorded (first response, or an explicit update), and a sentinel error when
// the callback is stray: unknown transaction, transaction no longer open or
// past deadline, unexpected participant, or a non-update duplicate.
func (c *Correlator) Accept(txnID, participantID string, payload json.RawMessage, isUpdate bool) (complete bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[txnID]
	if !ok {
		return false, ErrUnknownTransaction
	}
	now := c.now()
	if t.State != StateOpen || !now.Before(t.Deadline) {
		return false, ErrTransactionClosed
	}
	if !t.Expected[participantID] {
		return false, ErrUnexpectedParticipant
	}

	if t.responded(participantID) {
		if !isUpdate {
			// First response wins.
			return false, ErrDuplicateResponse
		}
		for _, r := range t.Responses {
			if r.ParticipantID == participantID {
				r.Payload = payload
				r.ReceivedAt = now
				r.Updated = true
				break
			}
		}
		return false, nil
	}

	t.Responses = append(t.Responses, &Response{
		ParticipantID: participantID,
		Payload:       payload,
		ReceivedAt:    now,
	})
	return len(t.Responses) == len(t.Expected), nil
}

// CloseAtDeadline finishes an open transaction when its deadline fires: it
// becomes closed with at least one response, expired with none. Returns the
// per-participant outcomes, or nil when the transaction already finished.
func (c *Correlator) CloseAtDeadline(txnID string) []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[txnID]
	if !ok || t.State != StateOpen {
		return nil
	}
	if len(t.Responses) > 0 {
		t.State = StateClosed
	} else {
		t.State = StateExpired
	}
	t.ClosedAt = c.now()
	return c.outcomesLocked(t)
}

// CloseComplete closes a transaction once all expected participants have
// responded, without waiting for the deadline.
func (c *Correlator) CloseComplete(txnID string) []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[txnID]
	if !ok || t.State != StateOpen || len(t.Responses) != len(t.Expected) {
		return nil
	}
	t.State = StateClosed
	t.ClosedAt = c.now()
	return c.outcomesLocked(t)
}

// Cancel transitions an open transaction directly to closed with whatever
// responses have arrived. Late callbacks are stray from this point on.
func (c *Correlator) Cancel(txnID string) ([]Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[txnID]
	if !ok {
		return nil, ErrUnknownTransaction
	}
	if t.State != StateOpen {
		return nil, ErrTransactionClosed
	}
	t.State = StateClosed
	t.ClosedAt = c.now()
	return c.outcomesLocked(t), nil
}

func (c *Correlator) outcomesLocked(t *Transaction) []Outcome {
	outcomes := make([]Outcome, 0, len(t.Expected))
	for id := range t.Expected {
		outcomes = append(outcomes, Outcome{ParticipantID: id, TimedOut: !t.responded(id)})
	}
	return outcomes
}

// Results returns a snapshot of a transaction's responses and pending set.
func (c *Correlator) Results(txnID string) (*Results, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.txns[txnID]
	if !ok {
		return nil, ErrUnknownTransaction
	}
	res := &Results{
		TransactionID: t.ID,
		State:         t.State,
		Responses:     make([]*Response, 0, len(t.Responses)),
		Pending:       t.pending(),
	}
	for _, r := range t.Responses {
		cp := *r
		res.Responses = append(res.Responses, &cp)
	}
	sort.Strings(res.Pending)
	return res, nil
}

// Sweep retires finished transactions older than the retention window and
// returns how many were removed.
func (c *Correlator) Sweep(retention time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-retention)
	removed := 0
	for id, t := range c.txns {
		if t.State != StateOpen && t.ClosedAt.Before(cutoff) {
			delete(c.txns, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of transactions currently in the table.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.txns)
}
