package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when an entry could not be durably recorded.
// The caller must treat it as fatal to the access attempt: no data may be
// released whose access was not audited.
var ErrUnavailable = errors.New("audit log unavailable")

// Entry is the immutable record of one access decision. Once appended it is
// never mutated or removed; sequence numbers are strictly increasing and
// gap-free within a partition.
type Entry struct {
	Sequence         int64      `db:"sequence" json:"sequence"`
	Partition        string     `db:"partition" json:"partition"`
	Actor            string     `db:"actor" json:"actor"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	ResourceType     string     `db:"resource_type" json:"resource_type"`
	Outcome          string     `db:"outcome" json:"outcome"`
	MatchedConsentID *uuid.UUID `db:"matched_consent_id" json:"matched_consent_id,omitempty"`
	Reason           string     `db:"reason" json:"reason"`
	Justification    string     `db:"justification" json:"justification,omitempty"`
	ReviewRequired   bool       `db:"review_required" json:"review_required"`
	Recorded         time.Time  `db:"recorded" json:"recorded"`
}
