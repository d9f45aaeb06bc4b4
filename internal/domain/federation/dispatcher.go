package federation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/uhi/gateway/internal/domain/directory"
)

// OutboundRequest is the async search request sent to one participant. The
// participant answers later through the callback endpoint, carrying the same
// transaction id.
type OutboundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Criteria      Criteria        `json:"criteria"`
	CallbackURL   string          `json:"callback_url"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Dispatcher sends one outbound search request to one participant.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *directory.Participant, req OutboundRequest) error
}

// Signature headers shared by outbound dispatch and the callback intake. Both
// directions sign the raw body under the participant's shared secret.
const (
	HeaderSignature   = "X-Gateway-Signature"
	HeaderTransaction = "X-Gateway-Transaction"
	HeaderTimestamp   = "X-Gateway-Timestamp"

	signaturePrefix = "sha256="
)

// SignPayload computes the hex-encoded HMAC-SHA256 of the payload under the
// participant's shared secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the hex-encoded signature matches the
// HMAC-SHA256 of payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// HTTPDispatcher delivers signed search requests over HTTPS. Every call
// carries a timeout; there is no unbounded wait on any single participant.
type HTTPDispatcher struct {
	client      *http.Client
	callTimeout time.Duration
	callbackURL string
}

type DispatcherOption func(*HTTPDispatcher)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *HTTPDispatcher) { d.client = c }
}

// WithCallTimeout sets the per-participant outbound timeout.
func WithCallTimeout(t time.Duration) DispatcherOption {
	return func(d *HTTPDispatcher) { d.callTimeout = t }
}

// NewHTTPDispatcher creates a dispatcher. callbackURL is this gateway's own
// callback intake, advertised to participants in every request.
func NewHTTPDispatcher(callbackURL string, opts ...DispatcherOption) *HTTPDispatcher {
	d := &HTTPDispatcher{
		client:      &http.Client{Timeout: 10 * time.Second},
		callTimeout: 1500 * time.Millisecond,
		callbackURL: callbackURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, p *directory.Participant, req OutboundRequest) error {
	req.CallbackURL = d.callbackURL
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal outbound request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", p.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderSignature, signaturePrefix+SignPayload(body, p.Secret))
	httpReq.Header.Set(HeaderTransaction, req.TransactionID)
	httpReq.Header.Set(HeaderTimestamp, req.Timestamp.UTC().Format(time.RFC3339))

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch to %s: %w", p.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch to %s: participant returned %d", p.ID, resp.StatusCode)
	}
	return nil
}
