package federation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestTxn(id string, now time.Time, deadline time.Duration, expected ...string) *Transaction {
	t := &Transaction{
		ID:          id,
		Criteria:    Criteria{Capability: "search"},
		InitiatedAt: now,
		Deadline:    now.Add(deadline),
		State:       StateOpen,
		Expected:    make(map[string]bool, len(expected)),
	}
	for _, e := range expected {
		t.Expected[e] = true
	}
	return t
}

func TestAccept_Classification(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	clock := &now
	c := NewCorrelatorWithClock(func() time.Time { return *clock })
	c.Register(newTestTxn("txn-1", now, 2*time.Second, "a", "b"))

	payload := json.RawMessage(`{"records":1}`)

	if _, err := c.Accept("ghost", "a", payload, false); !errors.Is(err, ErrUnknownTransaction) {
		t.Fatalf("unknown transaction: want ErrUnknownTransaction, got %v", err)
	}
	if _, err := c.Accept("txn-1", "z", payload, false); !errors.Is(err, ErrUnexpectedParticipant) {
		t.Fatalf("unexpected participant: want ErrUnexpectedParticipant, got %v", err)
	}
	if _, err := c.Accept("txn-1", "a", payload, false); err != nil {
		t.Fatalf("first response: %v", err)
	}
	if _, err := c.Accept("txn-1", "a", json.RawMessage(`{"records":9}`), false); !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("silent duplicate: want ErrDuplicateResponse, got %v", err)
	}

	res, err := c.Results("txn-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Responses[0].Payload) != `{"records":1}` {
		t.Fatalf("first response must win, got %s", res.Responses[0].Payload)
	}
}

func TestAccept_UpdateReplacesEarlierResponse(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	c := NewCorrelatorWithClock(func() time.Time { return now })
	c.Register(newTestTxn("txn-1", now, 2*time.Second, "a"))

	if _, err := c.Accept("txn-1", "a", json.RawMessage(`{"v":1}`), false); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Accept("txn-1", "a", json.RawMessage(`{"v":2}`), true); err != nil {
		t.Fatalf("explicit update: %v", err)
	}

	res, err := c.Results("txn-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Responses) != 1 {
		t.Fatalf("update must replace, not append: %d responses", len(res.Responses))
	}
	if string(res.Responses[0].Payload) != `{"v":2}` || !res.Responses[0].Updated {
		t.Fatalf("update not applied: %+v", res.Responses[0])
	}
}

func TestAccept_RejectsResponsePastDeadline(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	clock := &now
	c := NewCorrelatorWithClock(func() time.Time { return *clock })
	c.Register(newTestTxn("txn-1", now, 2*time.Second, "a"))

	// 50ms past the deadline, before the timer has fired.
	*clock = now.Add(2*time.Second + 50*time.Millisecond)
	if _, err := c.Accept("txn-1", "a", json.RawMessage(`{}`), false); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("late response must be dropped, got %v", err)
	}

	res, err := c.Results("txn-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Responses) != 0 {
		t.Fatalf("late response leaked into the transaction: %d", len(res.Responses))
	}
}

func TestCloseAtDeadline_StateDependsOnResponses(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	c := NewCorrelatorWithClock(func() time.Time { return now })

	c.Register(newTestTxn("with-response", now, time.Second, "a", "b"))
	c.Register(newTestTxn("silent", now, time.Second, "a", "b"))
	if _, err := c.Accept("with-response", "a", json.RawMessage(`{}`), false); err != nil {
		t.Fatal(err)
	}

	outcomes := c.CloseAtDeadline("with-response")
	if len(outcomes) != 2 {
		t.Fatalf("want 2 outcomes, got %d", len(outcomes))
	}
	byID := map[string]bool{}
	for _, o := range outcomes {
		byID[o.ParticipantID] = o.TimedOut
	}
	if byID["a"] || !byID["b"] {
		t.Fatalf("outcome flags wrong: %v", byID)
	}

	res, _ := c.Results("with-response")
	if res.State != StateClosed {
		t.Fatalf("one response: want closed, got %s", res.State)
	}
	c.CloseAtDeadline("silent")
	res, _ = c.Results("silent")
	if res.State != StateExpired {
		t.Fatalf("zero responses: want expired, got %s", res.State)
	}

	// Finished transactions close only once.
	if outcomes := c.CloseAtDeadline("with-response"); outcomes != nil {
		t.Fatal("double close must be a no-op")
	}
}

func TestCancel_ClosesOpenTransactionOnce(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	c := NewCorrelatorWithClock(func() time.Time { return now })
	c.Register(newTestTxn("txn-1", now, time.Minute, "a", "b"))
	if _, err := c.Accept("txn-1", "a", json.RawMessage(`{}`), false); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Cancel("txn-1"); err != nil {
		t.Fatal(err)
	}
	res, _ := c.Results("txn-1")
	if res.State != StateClosed || len(res.Responses) != 1 {
		t.Fatalf("cancel must keep partial results: %+v", res)
	}

	if _, err := c.Cancel("txn-1"); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("second cancel: want ErrTransactionClosed, got %v", err)
	}
	if _, err := c.Cancel("ghost"); !errors.Is(err, ErrUnknownTransaction) {
		t.Fatalf("unknown cancel: want ErrUnknownTransaction, got %v", err)
	}
}

func TestSweep_RetiresOnlyFinishedPastRetention(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	clock := &now
	c := NewCorrelatorWithClock(func() time.Time { return *clock })

	c.Register(newTestTxn("old-closed", now, time.Second, "a"))
	c.Register(newTestTxn("still-open", now, time.Hour, "a"))
	c.CloseAtDeadline("old-closed")

	*clock = now.Add(10 * time.Minute)
	c.Register(newTestTxn("fresh-closed", *clock, time.Second, "a"))
	c.CloseAtDeadline("fresh-closed")

	if n := c.Sweep(5 * time.Minute); n != 1 {
		t.Fatalf("want 1 retired, got %d", n)
	}
	if _, err := c.Results("old-closed"); !errors.Is(err, ErrUnknownTransaction) {
		t.Fatal("old finished transaction must be retired")
	}
	if _, err := c.Results("still-open"); err != nil {
		t.Fatal("open transaction must survive the sweep")
	}
	if _, err := c.Results("fresh-closed"); err != nil {
		t.Fatal("recently finished transaction must survive the sweep")
	}
}

func TestResults_PreservesInsertionOrder(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	c := NewCorrelatorWithClock(func() time.Time { return now })
	c.Register(newTestTxn("txn-1", now, time.Minute, "a", "b", "c", "d"))

	for _, id := range []string{"c", "a", "d"} {
		if _, err := c.Accept("txn-1", id, json.RawMessage(`{}`), false); err != nil {
			t.Fatal(err)
		}
	}
	res, err := c.Results("txn-1")
	if err != nil {
		t.Fatal(err)
	}
	got := []string{res.Responses[0].ParticipantID, res.Responses[1].ParticipantID, res.Responses[2].ParticipantID}
	want := []string{"c", "a", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("insertion order lost: got %v want %v", got, want)
		}
	}
	if len(res.Pending) != 1 || res.Pending[0] != "b" {
		t.Fatalf("want pending [b], got %v", res.Pending)
	}
}
