package directory

import (
	"errors"
	"time"
)

const (
	TrustVerified   = "verified"
	TrustUnverified = "unverified"
	TrustSuspended  = "suspended"
)

var (
	ErrNotFound           = errors.New("participant not found")
	ErrInvalidParticipant = errors.New("invalid participant")
)

func validTrustStatus(s string) bool {
	switch s {
	case TrustVerified, TrustUnverified, TrustSuspended:
		return true
	}
	return false
}

// Participant is a provider or facility on the federated network. Only
// verified participants receive fan-out traffic.
type Participant struct {
	ID                  string     `db:"id" json:"id"`
	Name                string     `db:"name" json:"name"`
	CallbackURL         string     `db:"callback_url" json:"callback_url"`
	Secret              string     `db:"secret" json:"-"`
	Capabilities        []string   `db:"capabilities" json:"capabilities"`
	TrustStatus         string     `db:"trust_status" json:"trust_status"`
	ConsecutiveTimeouts int        `db:"consecutive_timeouts" json:"consecutive_timeouts"`
	LastSeenAt          *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// HasCapability reports whether the participant serves the given category.
func (p *Participant) HasCapability(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func (p *Participant) clone() *Participant {
	cp := *p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	if p.LastSeenAt != nil {
		t := *p.LastSeenAt
		cp.LastSeenAt = &t
	}
	return &cp
}
