package federation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/uhi/gateway/internal/domain/directory"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, p *directory.Participant, _ OutboundRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, p.ID)
	return nil
}

func (f *fakeDispatcher) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.dispatched...)
	sort.Strings(out)
	return out
}

func newEngineFixture(t *testing.T, cfg EngineConfig, participants ...string) (*Engine, *directory.Service, *fakeDispatcher) {
	t.Helper()
	dir := directory.NewService(directory.NewMemoryRepo(), 3, zerolog.Nop())
	for _, id := range participants {
		_, err := dir.Register(context.Background(), &directory.Participant{
			ID:           id,
			Name:         "Facility " + id,
			CallbackURL:  "https://" + id + ".example.com/cb",
			Secret:       "s3cret",
			Capabilities: []string{"search"},
			TrustStatus:  directory.TrustVerified,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	disp := &fakeDispatcher{}
	return NewEngine(NewCorrelator(), dir, disp, cfg, zerolog.Nop()), dir, disp
}

func waitForState(t *testing.T, e *Engine, txnID, state string, timeout time.Duration) *Results {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		res, err := e.GetResults(context.Background(), txnID)
		if err != nil {
			t.Fatal(err)
		}
		if res.State == state {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	res, _ := e.GetResults(context.Background(), txnID)
	t.Fatalf("transaction %s never reached %s, last state %s", txnID, state, res.State)
	return nil
}

func TestSearch_PartialResultsAtDeadline(t *testing.T) {
	e, dir, disp := newEngineFixture(t, EngineConfig{}, "a", "b", "c", "d", "e")
	ctx := context.Background()

	txnID, err := e.Search(ctx, Criteria{Capability: "search"}, 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"a", "b", "d"} {
		e.HandleCallback(ctx, txnID, id, json.RawMessage(`{"from":"`+id+`"}`), false)
	}

	res := waitForState(t, e, txnID, StateClosed, 2*time.Second)
	if len(res.Responses) != 3 {
		t.Fatalf("want 3 responses, got %d", len(res.Responses))
	}
	if len(res.Pending) != 2 || res.Pending[0] != "c" || res.Pending[1] != "e" {
		t.Fatalf("want pending [c e], got %v", res.Pending)
	}

	// Fan-out reached every verified participant.
	if got := disp.ids(); len(got) != 5 {
		t.Fatalf("want 5 dispatches, got %v", got)
	}

	// Non-responders picked up a timeout; responders were reset and stamped.
	for id, wantTimeouts := range map[string]int{"a": 0, "c": 1, "e": 1} {
		p, err := dir.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if p.ConsecutiveTimeouts != wantTimeouts {
			t.Fatalf("participant %s: want %d consecutive timeouts, got %d", id, wantTimeouts, p.ConsecutiveTimeouts)
		}
	}

	// A callback arriving shortly after the deadline is stray: counted,
	// never added to the results.
	before := e.StrayCallbacks()
	e.HandleCallback(ctx, txnID, "c", json.RawMessage(`{"from":"c"}`), false)
	if e.StrayCallbacks() != before+1 {
		t.Fatal("late callback must be counted as stray")
	}
	res, err = e.GetResults(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Responses) != 3 {
		t.Fatalf("late callback leaked into results: %d", len(res.Responses))
	}
}

func TestSearch_ExpiresWithZeroResponses(t *testing.T) {
	e, _, _ := newEngineFixture(t, EngineConfig{}, "a", "b")

	txnID, err := e.Search(context.Background(), Criteria{Capability: "search"}, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	res := waitForState(t, e, txnID, StateExpired, 2*time.Second)
	if len(res.Responses) != 0 || len(res.Pending) != 2 {
		t.Fatalf("expired transaction: responses=%d pending=%v", len(res.Responses), res.Pending)
	}
}

func TestSearch_ClosesEarlyWhenAllRespond(t *testing.T) {
	e, _, _ := newEngineFixture(t, EngineConfig{}, "a", "b")
	ctx := context.Background()

	txnID, err := e.Search(ctx, Criteria{Capability: "search"}, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	e.HandleCallback(ctx, txnID, "a", json.RawMessage(`{}`), false)
	e.HandleCallback(ctx, txnID, "b", json.RawMessage(`{}`), false)

	res, err := e.GetResults(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateClosed {
		t.Fatalf("all responded: want closed immediately, got %s", res.State)
	}
	if len(res.Pending) != 0 {
		t.Fatalf("want no pending, got %v", res.Pending)
	}
}

func TestSearch_NoMatchingParticipants(t *testing.T) {
	e, dir, _ := newEngineFixture(t, EngineConfig{}, "a")
	ctx := context.Background()

	if _, err := e.Search(ctx, Criteria{Capability: "discovery"}, 0); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("want ErrNoParticipants, got %v", err)
	}

	// Suspended participants never receive traffic either.
	if err := dir.UpdateTrustStatus(ctx, "a", directory.TrustSuspended); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Search(ctx, Criteria{Capability: "search"}, 0); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("want ErrNoParticipants for suspended-only, got %v", err)
	}
}

func TestCancel_KeepsPartialResultsAndStraysLateCallbacks(t *testing.T) {
	e, _, _ := newEngineFixture(t, EngineConfig{}, "a", "b", "c")
	ctx := context.Background()

	txnID, err := e.Search(ctx, Criteria{Capability: "search"}, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	e.HandleCallback(ctx, txnID, "a", json.RawMessage(`{}`), false)

	res, err := e.Cancel(ctx, txnID)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateClosed || len(res.Responses) != 1 {
		t.Fatalf("cancel must close with partial results: %+v", res)
	}

	before := e.StrayCallbacks()
	e.HandleCallback(ctx, txnID, "b", json.RawMessage(`{}`), false)
	if e.StrayCallbacks() != before+1 {
		t.Fatal("callback after cancel must be stray")
	}

	if _, err := e.Cancel(ctx, txnID); !errors.Is(err, ErrTransactionClosed) {
		t.Fatalf("second cancel: want ErrTransactionClosed, got %v", err)
	}
}

func TestHTTPDispatcher_SignsOutboundRequests(t *testing.T) {
	var (
		mu      sync.Mutex
		gotSig  string
		gotTxn  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotSig = r.Header.Get("X-Gateway-Signature")
		gotTxn = r.Header.Get("X-Gateway-Transaction")
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher("https://gw.example.com/gateway/v1/on_search",
		WithCallTimeout(2*time.Second))
	p := &directory.Participant{ID: "p1", CallbackURL: srv.URL, Secret: "s3cret"}

	err := d.Dispatch(context.Background(), p, OutboundRequest{
		TransactionID: "txn-42",
		Criteria:      Criteria{Capability: "search"},
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotTxn != "txn-42" {
		t.Fatalf("want transaction header txn-42, got %q", gotTxn)
	}
	const prefix = "sha256="
	if len(gotSig) <= len(prefix) || gotSig[:len(prefix)] != prefix {
		t.Fatalf("malformed signature header %q", gotSig)
	}
	if !VerifySignature(gotBody, "s3cret", gotSig[len(prefix):]) {
		t.Fatal("signature does not verify against the delivered body")
	}

	var req OutboundRequest
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatal(err)
	}
	if req.CallbackURL != "https://gw.example.com/gateway/v1/on_search" {
		t.Fatalf("callback url not advertised: %q", req.CallbackURL)
	}
}

func TestHTTPDispatcher_ParticipantErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher("https://gw.example.com/cb")
	p := &directory.Participant{ID: "p1", CallbackURL: srv.URL, Secret: "s"}
	if err := d.Dispatch(context.Background(), p, OutboundRequest{TransactionID: "t"}); err == nil {
		t.Fatal("participant 500 must surface as an error")
	}
}
