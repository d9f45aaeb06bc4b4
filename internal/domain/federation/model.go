package federation

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	StateOpen    = "open"
	StateClosed  = "closed"
	StateExpired = "expired"
)

var (
	ErrNoParticipants     = errors.New("no verified participants match the search capability")
	ErrUnknownTransaction = errors.New("unknown transaction")
	ErrTransactionClosed  = errors.New("transaction is no longer open")

	// Stray-callback classifications. These never cross the HTTP boundary;
	// the engine logs and counts them.
	ErrUnexpectedParticipant = errors.New("participant not expected for transaction")
	ErrDuplicateResponse     = errors.New("duplicate response dropped")
)

// Criteria describes what a federated search is looking for. Capability
// selects the fan-out set; parameters are passed through to participants.
type Criteria struct {
	Capability string            `json:"capability"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Response is one participant's answer, keyed by (transaction, participant).
type Response struct {
	ParticipantID string          `json:"participant_id"`
	Payload       json.RawMessage `json:"payload"`
	ReceivedAt    time.Time       `json:"received_at"`
	Updated       bool            `json:"updated,omitempty"`
}

// Transaction is one correlated federated search. It is owned by the
// correlator for its lifetime and retired after a retention window. The
// responses slice preserves insertion order.
type Transaction struct {
	ID          string
	Criteria    Criteria
	InitiatedAt time.Time
	Deadline    time.Time
	State       string
	ClosedAt    time.Time
	Expected    map[string]bool
	Responses   []*Response
}

func (t *Transaction) responded(participantID string) bool {
	for _, r := range t.Responses {
		if r.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// pending returns expected participants that have not responded. Map order
// is unspecified; callers sort when they need determinism.
func (t *Transaction) pending() []string {
	var out []string
	for id := range t.Expected {
		if !t.responded(id) {
			out = append(out, id)
		}
	}
	return out
}

// Results is the caller-facing view of a transaction: partial results are
// explicit, never silent.
type Results struct {
	TransactionID string      `json:"transaction_id"`
	State         string      `json:"state"`
	Responses     []*Response `json:"responses"`
	Pending       []string    `json:"pending"`
}
