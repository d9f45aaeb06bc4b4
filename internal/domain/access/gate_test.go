package access

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uhi/gateway/internal/domain/audit"
	"github.com/uhi/gateway/internal/domain/consent"
)

type fakeStore struct {
	calls int64
	err   error
}

func (f *fakeStore) FetchResource(_ context.Context, resourceType, resourceID string) (interface{}, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return map[string]string{"resource_type": resourceType, "resource_id": resourceID}, nil
}

type fixture struct {
	consents *consent.Service
	auditRep *audit.MemoryRepo
	auditor  *audit.Service
	store    *fakeStore
	gate     *Gate
	clock    *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time { return *clock }

	consents := consent.NewServiceWithClock(consent.NewMemoryRepo(), tick)
	auditRep := audit.NewMemoryRepo()
	auditor := audit.NewService(auditRep, "gw-test")
	store := &fakeStore{}
	gate := NewGate(NewEngineWithClock(consents, tick), auditor, store, zerolog.Nop())
	return &fixture{consents: consents, auditRep: auditRep, auditor: auditor, store: store, gate: gate, clock: clock}
}

func (f *fixture) auditEntries(t *testing.T, patient uuid.UUID) []*audit.Entry {
	t.Helper()
	items, err := f.auditor.QueryByPatient(context.Background(), patient, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	return items
}

func TestRequest_ConsentWindowExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	exp := f.clock.Add(24 * time.Hour)
	if _, err := f.consents.Grant(ctx, patient, "provider:g", []string{"prescription"}, "treatment", &exp); err != nil {
		t.Fatal(err)
	}

	req := DecisionRequest{
		Requester:    "provider:g",
		PatientID:    patient,
		ResourceType: "prescription",
		ResourceID:   "rx-1",
	}

	res, err := f.gate.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Outcome != OutcomeAllowed {
		t.Fatalf("within window: want allowed, got %s (%s)", res.Decision.Outcome, res.Decision.Reason)
	}
	if res.Decision.MatchedConsentID == nil {
		t.Fatal("allowed decision must carry a matched consent id")
	}
	if res.Resource == nil {
		t.Fatal("allowed access must release the resource")
	}

	*f.clock = f.clock.Add(25 * time.Hour)
	res, err = f.gate.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Outcome != OutcomeDenied {
		t.Fatalf("after window: want denied, got %s", res.Decision.Outcome)
	}
	if res.Resource != nil {
		t.Fatal("denied access must not release the resource")
	}
	if got := atomic.LoadInt64(&f.store.calls); got != 1 {
		t.Fatalf("store called %d times, want 1", got)
	}
	if entries := f.auditEntries(t, patient); len(entries) != 2 {
		t.Fatalf("want exactly one audit entry per gate call, got %d for 2 calls", len(entries))
	}
}

func TestRequest_RevocationSeenOnNextCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	a, err := f.consents.Grant(ctx, patient, "provider:g", []string{"lab_report"}, "treatment", nil)
	if err != nil {
		t.Fatal(err)
	}

	req := DecisionRequest{Requester: "provider:g", PatientID: patient, ResourceType: "lab_report"}
	res, err := f.gate.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Outcome != OutcomeAllowed {
		t.Fatalf("want allowed before revoke, got %s", res.Decision.Outcome)
	}

	if err := f.consents.Revoke(ctx, a.ID, "patient"); err != nil {
		t.Fatal(err)
	}
	res, err = f.gate.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Outcome != OutcomeDenied {
		t.Fatalf("want denied after revoke, got %s", res.Decision.Outcome)
	}
}

func TestRequest_EmergencyOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	req := DecisionRequest{
		Requester:         "er:staff-7",
		RequesterRoles:    []string{"emergency"},
		PatientID:         patient,
		ResourceType:      "medical_history",
		EmergencyOverride: true,
		Justification:     "unconscious patient",
	}
	res, err := f.gate.Request(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Outcome != OutcomeAllowedEmergency {
		t.Fatalf("want allowed_emergency, got %s", res.Decision.Outcome)
	}
	if res.Resource == nil {
		t.Fatal("emergency access must release the resource")
	}

	entries := f.auditEntries(t, patient)
	if len(entries) != 1 {
		t.Fatalf("want 1 audit entry, got %d", len(entries))
	}
	if !entries[0].ReviewRequired {
		t.Fatal("emergency entry must be flagged for review")
	}
	if entries[0].Justification == "" {
		t.Fatal("emergency entry must carry the justification")
	}
}

func TestRequest_EmergencyWithoutJustification(t *testing.T) {
	f := newFixture(t)
	patient := uuid.New()

	_, err := f.gate.Request(context.Background(), DecisionRequest{
		Requester:         "er:staff-7",
		RequesterRoles:    []string{"physician"},
		PatientID:         patient,
		ResourceType:      "medical_history",
		EmergencyOverride: true,
	})
	if !errors.Is(err, ErrMissingJustification) {
		t.Fatalf("want ErrMissingJustification, got %v", err)
	}
	if got := atomic.LoadInt64(&f.store.calls); got != 0 {
		t.Fatalf("store must not be called, got %d calls", got)
	}
}

func TestRequest_EmergencyWithoutClinicalRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	res, err := f.gate.Request(ctx, DecisionRequest{
		Requester:         "hiu:analyst",
		RequesterRoles:    []string{"analyst"},
		PatientID:         patient,
		ResourceType:      "medical_history",
		EmergencyOverride: true,
		Justification:     "curiosity",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision.Outcome != OutcomeDenied {
		t.Fatalf("non-clinical override must be denied, got %s", res.Decision.Outcome)
	}
}

func TestRequest_AuditFailureAbortsRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	if _, err := f.consents.Grant(ctx, patient, "provider:g", []string{"prescription"}, "treatment", nil); err != nil {
		t.Fatal(err)
	}
	f.auditRep.FailAppends = true

	_, err := f.gate.Request(ctx, DecisionRequest{
		Requester:    "provider:g",
		PatientID:    patient,
		ResourceType: "prescription",
	})
	if !errors.Is(err, ErrAuditUnavailable) {
		t.Fatalf("want ErrAuditUnavailable, got %v", err)
	}
	if got := atomic.LoadInt64(&f.store.calls); got != 0 {
		t.Fatalf("no data may be released without an audit entry, store called %d times", got)
	}
}

func TestDecide_IsDeterministic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	if _, err := f.consents.Grant(ctx, patient, "provider:g", []string{"prescription"}, "treatment", nil); err != nil {
		t.Fatal(err)
	}
	engine := NewEngineWithClock(f.consents, func() time.Time { return *f.clock })

	req := DecisionRequest{Requester: "provider:g", PatientID: patient, ResourceType: "prescription"}
	d1, err := engine.Decide(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := engine.Decide(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if d1.Outcome != d2.Outcome || d1.Reason != d2.Reason || !d1.Timestamp.Equal(d2.Timestamp) {
		t.Fatalf("identical ledger and clock must yield identical decisions: %+v vs %+v", d1, d2)
	}
}
