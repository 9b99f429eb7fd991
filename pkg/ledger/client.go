// Package ledger talks to the external ledger service: event submission
// over the gateway's request/response API, and document lookup against the
// ledger's state store (a CouchDB-style key-document store partitioned
// across per-channel collections).
//
// The client is constructed explicitly and passed into the workflow engine,
// payment recorder and integrity verifier; there is no process-wide shared
// instance.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/akhdaniel/vendorchain/pkg/domain"
)

type SubmitStatus string

const (
	// StatusAccepted means the ledger acknowledged the event and the
	// transaction id is authoritative.
	StatusAccepted SubmitStatus = "accepted"
	// StatusUnavailable means the ledger could not be reached within the
	// attempt budget; the caller retries later.
	StatusUnavailable SubmitStatus = "unavailable"
	// StatusFallback means a locally derived transaction id was issued so
	// the workflow can proceed in degraded mode.
	StatusFallback SubmitStatus = "fallback"
)

type SubmitResult struct {
	TransactionID string       `json:"transaction_id,omitempty"`
	Status        SubmitStatus `json:"status"`
}

type Config struct {
	SubmitBaseURL string
	QueryBaseURL  string
	Timeout       time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	// DegradedMode issues fallback transaction ids when the ledger is
	// unreachable instead of reporting unavailable.
	DegradedMode bool
}

type Client struct {
	submitBase string
	queryBase  string
	httpClient *http.Client
	attempts   int
	baseDelay  time.Duration
	maxDelay   time.Duration
	degraded   bool
	log        *slog.Logger
	now        func() time.Time
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		submitBase: strings.TrimRight(cfg.SubmitBaseURL, "/"),
		queryBase:  strings.TrimRight(cfg.QueryBaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		attempts:   cfg.MaxAttempts,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		degraded:   cfg.DegradedMode,
		log:        log,
		now:        time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Close releases idle connections. The client is unusable afterwards.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type submitResponse struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error,omitempty"`
}

// Submit records an event on the external ledger. The ledger submission is
// bounded: per-attempt timeout, at most MaxAttempts tries with exponential
// backoff, then unavailable (or a fallback id in degraded mode). It never
// hangs the caller.
func (c *Client) Submit(ctx context.Context, ev Event) (SubmitResult, error) {
	if ev.SubmittedAt.IsZero() {
		ev.SubmittedAt = c.now()
	}
	method, path := submitRoute(ev)
	body, err := json.Marshal(ev)
	if err != nil {
		return SubmitResult{Status: StatusUnavailable}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.submitBase+path, bytes.NewReader(body))
		if err != nil {
			return SubmitResult{Status: StatusUnavailable}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", ev.DedupKey())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !c.sleep(ctx, attempt) {
				break
			}
			continue
		}
		var out submitResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("ledger returned %d", resp.StatusCode)
			if !c.sleep(ctx, attempt) {
				break
			}
			continue
		}
		if resp.StatusCode >= 300 {
			return SubmitResult{Status: StatusUnavailable},
				&domain.LedgerUnavailableError{Op: ev.Action, Err: fmt.Errorf("ledger rejected event: %d", resp.StatusCode)}
		}
		if decodeErr != nil {
			lastErr = decodeErr
			if !c.sleep(ctx, attempt) {
				break
			}
			continue
		}
		if !out.Success {
			return SubmitResult{Status: StatusUnavailable},
				&domain.LedgerUnavailableError{Op: ev.Action, Err: fmt.Errorf("ledger error: %s", out.Error)}
		}
		return SubmitResult{TransactionID: out.TransactionID, Status: StatusAccepted}, nil
	}

	if c.degraded {
		txID := FallbackTxID(ev.EntityID, ev.Action, ev.SubmittedAt)
		c.log.Warn("ledger unreachable, issuing fallback transaction id",
			"entity_id", ev.EntityID, "action", ev.Action, "tx_id", txID)
		return SubmitResult{TransactionID: txID, Status: StatusFallback}, nil
	}
	return SubmitResult{Status: StatusUnavailable},
		&domain.LedgerUnavailableError{Op: ev.Action, Err: lastErr}
}

// Healthy reports whether the gateway answers its health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.submitBase+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 300
}

func submitRoute(ev Event) (method, path string) {
	switch ev.Type {
	case EntityVendor:
		if ev.Action == "UPDATE" {
			return http.MethodPut, "/vendors/" + ev.EntityID
		}
		return http.MethodPost, "/vendors"
	case EntityContract:
		if ev.Action == "CREATE" {
			return http.MethodPost, "/contracts"
		}
		return http.MethodPost, "/workflow/contracts/" + ev.EntityID + "/" + strings.ToLower(ev.Action)
	case EntityPayment:
		return http.MethodPost, "/contracts/" + contractOf(ev) + "/payments"
	}
	return http.MethodPost, "/events"
}

func contractOf(ev Event) string {
	if ev.Payment != nil {
		return ev.Payment.ContractID
	}
	return ev.EntityID
}

// sleep waits out the backoff for the given attempt, honoring ctx. It
// returns false when the context is done or the attempt budget is spent.
func (c *Client) sleep(ctx context.Context, attempt int) bool {
	if attempt >= c.attempts {
		return false
	}
	d := c.baseDelay << (attempt - 1)
	if d > c.maxDelay {
		d = c.maxDelay
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
