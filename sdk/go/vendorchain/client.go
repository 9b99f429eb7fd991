// Package vendorchain is the Go client for the VendorChain gateway API.
package vendorchain

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const APIVersion = "v1"

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type Error struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RequestID  string
	Details    map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("vendorchain sdk error: status=%d code=%s message=%s", e.StatusCode, e.ErrorCode, e.Message)
}

type Vendor struct {
	VendorID           string         `json:"vendor_id"`
	Name               string         `json:"name"`
	VendorType         string         `json:"vendor_type"`
	Status             string         `json:"status"`
	ContactEmail       string         `json:"contact_email"`
	TransactionID      string         `json:"transaction_id,omitempty"`
	SyncStatus         string         `json:"sync_status"`
	VerificationStatus string         `json:"verification_status"`
	Raw                map[string]any `json:"-"`
}

type Contract struct {
	ContractID         string         `json:"contract_id"`
	VendorID           string         `json:"vendor_id"`
	ContractType       string         `json:"contract_type"`
	State              string         `json:"state"`
	TotalValueCents    int64          `json:"total_value_cents"`
	PaidCents          int64          `json:"paid_cents"`
	RemainingCents     int64          `json:"remaining_cents"`
	ExpiryDate         string         `json:"expiry_date"`
	TransactionID      string         `json:"transaction_id,omitempty"`
	SyncStatus         string         `json:"sync_status"`
	VerificationStatus string         `json:"verification_status"`
	Raw                map[string]any `json:"-"`
}

type Payment struct {
	PaymentID     string         `json:"payment_id"`
	ContractID    string         `json:"contract_id"`
	AmountCents   int64          `json:"amount_cents"`
	Reference     string         `json:"reference"`
	Method        string         `json:"method"`
	TransactionID string         `json:"transaction_id,omitempty"`
	SyncStatus    string         `json:"sync_status"`
	Raw           map[string]any `json:"-"`
}

type FieldMatch struct {
	Field  string `json:"field"`
	Local  any    `json:"local"`
	Ledger any    `json:"ledger"`
	Match  bool   `json:"match"`
}

type Verification struct {
	Status    string         `json:"status"`
	Fields    []FieldMatch   `json:"fields,omitempty"`
	CheckedAt string         `json:"checked_at"`
	Raw       map[string]any `json:"-"`
}

type WorkflowLogEntry struct {
	Action        string `json:"action"`
	FromState     string `json:"from_state,omitempty"`
	ToState       string `json:"to_state"`
	PerformedBy   string `json:"performed_by"`
	PerformedAt   string `json:"performed_at"`
	TransactionID string `json:"transaction_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type AuthStrategy interface {
	Apply(req *http.Request) error
}

type BearerAuth struct{ Token string }

func (a BearerAuth) Apply(req *http.Request) error {
	if strings.TrimSpace(a.Token) == "" {
		return errors.New("bearer token is required")
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	return nil
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthStrategy
	retry      RetryConfig
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func WithAuth(auth AuthStrategy) Option {
	return func(c *Client) { c.auth = auth }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	if c.retry.BaseDelay <= 0 {
		c.retry.BaseDelay = 200 * time.Millisecond
	}
	if c.retry.MaxDelay <= 0 {
		c.retry.MaxDelay = 5 * time.Second
	}
	return c
}

// Login exchanges credentials for a token and installs it on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	payload, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]any{
		"username": username, "password": password,
	}, false)
	if err != nil {
		return err
	}
	token, _ := payload["access_token"].(string)
	if token == "" {
		return errors.New("login response carried no access token")
	}
	c.auth = BearerAuth{Token: token}
	return nil
}

type NewVendor struct {
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	ContactEmail       string `json:"contact_email"`
	ContactPhone       string `json:"contact_phone,omitempty"`
	Address            string `json:"address,omitempty"`
	VendorType         string `json:"vendor_type"`
}

func (c *Client) CreateVendor(ctx context.Context, in NewVendor) (*Vendor, error) {
	payload, err := c.do(ctx, http.MethodPost, "/vendors", in, false)
	if err != nil {
		return nil, err
	}
	return parseVendor(payload), nil
}

func (c *Client) GetVendor(ctx context.Context, vendorID string) (*Vendor, error) {
	payload, err := c.do(ctx, http.MethodGet, "/vendors/"+url.PathEscape(vendorID), nil, true)
	if err != nil {
		return nil, err
	}
	return parseVendor(payload), nil
}

func (c *Client) DeactivateVendor(ctx context.Context, vendorID string) (*Vendor, error) {
	payload, err := c.do(ctx, http.MethodPost, "/vendors/"+url.PathEscape(vendorID)+"/deactivate", nil, false)
	if err != nil {
		return nil, err
	}
	return parseVendor(payload), nil
}

type NewContract struct {
	VendorID        string    `json:"vendor_id"`
	ContractType    string    `json:"contract_type"`
	Description     string    `json:"description,omitempty"`
	TotalValueCents int64     `json:"total_value_cents"`
	ExpiryDate      time.Time `json:"expiry_date"`
}

func (c *Client) CreateContract(ctx context.Context, in NewContract) (*Contract, error) {
	payload, err := c.do(ctx, http.MethodPost, "/contracts", in, false)
	if err != nil {
		return nil, err
	}
	return parseContract(payload), nil
}

func (c *Client) GetContract(ctx context.Context, contractID string) (*Contract, error) {
	payload, err := c.do(ctx, http.MethodGet, "/contracts/"+url.PathEscape(contractID), nil, true)
	if err != nil {
		return nil, err
	}
	return parseContract(payload), nil
}

// TransitionContract runs one workflow action: verify, submit, expire or
// terminate.
func (c *Client) TransitionContract(ctx context.Context, contractID, action, notes string) (*Contract, error) {
	var body any
	if notes != "" {
		body = map[string]any{"notes": notes}
	}
	path := "/workflow/contracts/" + url.PathEscape(contractID) + "/" + url.PathEscape(strings.ToLower(action))
	payload, err := c.do(ctx, http.MethodPost, path, body, false)
	if err != nil {
		return nil, err
	}
	return parseContract(payload), nil
}

func (c *Client) DeleteContract(ctx context.Context, contractID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/contracts/"+url.PathEscape(contractID), nil, false)
	return err
}

type NewPayment struct {
	AmountCents int64     `json:"amount_cents"`
	Date        time.Time `json:"date,omitempty"`
	Reference   string    `json:"reference"`
	Method      string    `json:"method"`
	Notes       string    `json:"notes,omitempty"`
}

func (c *Client) RecordPayment(ctx context.Context, contractID string, in NewPayment) (*Payment, error) {
	payload, err := c.do(ctx, http.MethodPost, "/contracts/"+url.PathEscape(contractID)+"/payments", in, false)
	if err != nil {
		return nil, err
	}
	raw, _ := payload["payment"].(map[string]any)
	if raw == nil {
		raw = payload
	}
	return parsePayment(raw), nil
}

func (c *Client) VerifyContractIntegrity(ctx context.Context, contractID string) (*Verification, error) {
	payload, err := c.do(ctx, http.MethodPost, "/contracts/"+url.PathEscape(contractID)+"/verify-integrity", nil, true)
	if err != nil {
		return nil, err
	}
	return parseVerification(payload), nil
}

func (c *Client) VerifyVendorIntegrity(ctx context.Context, vendorID string) (*Verification, error) {
	payload, err := c.do(ctx, http.MethodPost, "/vendors/"+url.PathEscape(vendorID)+"/verify", nil, true)
	if err != nil {
		return nil, err
	}
	return parseVerification(payload), nil
}

func (c *Client) WorkflowLogs(ctx context.Context, contractID string) ([]WorkflowLogEntry, error) {
	payload, err := c.do(ctx, http.MethodGet, "/contracts/"+url.PathEscape(contractID)+"/workflow-logs", nil, true)
	if err != nil {
		return nil, err
	}
	rawLogs, _ := payload["workflow_logs"].([]any)
	out := make([]WorkflowLogEntry, 0, len(rawLogs))
	for _, rl := range rawLogs {
		b, err := json.Marshal(rl)
		if err != nil {
			continue
		}
		var e WorkflowLogEntry
		if err := json.Unmarshal(b, &e); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, retryable bool) (map[string]any, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	attempts := 1
	if retryable {
		attempts = c.retry.MaxAttempts
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/"+APIVersion+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "vendorchain-go-sdk/0.1.0 (api:"+APIVersion+")")
		if len(bodyBytes) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.auth != nil {
			if err := c.auth.Apply(req); err != nil {
				return nil, err
			}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < attempts {
				sleepWithBackoff(c.retry, attempt, "")
				continue
			}
			return nil, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if len(respBody) == 0 {
				return map[string]any{}, nil
			}
			var obj map[string]any
			if err := json.Unmarshal(respBody, &obj); err != nil {
				return nil, err
			}
			return obj, nil
		}
		if shouldRetryStatus(resp.StatusCode) && attempt < attempts {
			sleepWithBackoff(c.retry, attempt, resp.Header.Get("Retry-After"))
			continue
		}
		return nil, parseSDKError(resp.StatusCode, respBody)
	}
	return nil, errors.New("unreachable")
}

func shouldRetryStatus(status int) bool {
	return status == 429 || status == 502 || status == 503 || status == 504
}

func sleepWithBackoff(cfg RetryConfig, attempt int, retryAfter string) {
	if strings.TrimSpace(retryAfter) != "" {
		if sec, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
			d := time.Duration(sec) * time.Second
			if d > cfg.MaxDelay {
				d = cfg.MaxDelay
			}
			time.Sleep(d)
			return
		}
	}
	max := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max > float64(cfg.MaxDelay) {
		max = float64(cfg.MaxDelay)
	}
	n, _ := rand.Int(rand.Reader, bigInt(int64(max)))
	time.Sleep(time.Duration(n.Int64()))
}

func parseSDKError(status int, body []byte) error {
	out := &Error{StatusCode: status}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	out.RequestID, _ = obj["request_id"].(string)
	if inner, ok := obj["error"].(map[string]any); ok {
		obj = inner
	}
	out.ErrorCode, _ = obj["code"].(string)
	out.Message, _ = obj["message"].(string)
	if d, ok := obj["details"].(map[string]any); ok {
		out.Details = d
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}

func parseVendor(payload map[string]any) *Vendor {
	raw, _ := payload["vendor"].(map[string]any)
	if raw == nil {
		raw = payload
	}
	v := &Vendor{Raw: raw}
	v.VendorID, _ = raw["vendor_id"].(string)
	v.Name, _ = raw["name"].(string)
	v.VendorType, _ = raw["vendor_type"].(string)
	v.Status, _ = raw["status"].(string)
	v.ContactEmail, _ = raw["contact_email"].(string)
	v.TransactionID, _ = raw["transaction_id"].(string)
	v.SyncStatus, _ = raw["sync_status"].(string)
	v.VerificationStatus, _ = raw["verification_status"].(string)
	return v
}

func parseContract(payload map[string]any) *Contract {
	raw, _ := payload["contract"].(map[string]any)
	if raw == nil {
		raw = payload
	}
	c := &Contract{Raw: raw}
	c.ContractID, _ = raw["contract_id"].(string)
	c.VendorID, _ = raw["vendor_id"].(string)
	c.ContractType, _ = raw["contract_type"].(string)
	c.State, _ = raw["state"].(string)
	c.TotalValueCents = asInt64(raw["total_value_cents"])
	c.PaidCents = asInt64(raw["paid_cents"])
	c.RemainingCents = asInt64(raw["remaining_cents"])
	c.ExpiryDate, _ = raw["expiry_date"].(string)
	c.TransactionID, _ = raw["transaction_id"].(string)
	c.SyncStatus, _ = raw["sync_status"].(string)
	c.VerificationStatus, _ = raw["verification_status"].(string)
	return c
}

func parsePayment(raw map[string]any) *Payment {
	p := &Payment{Raw: raw}
	p.PaymentID, _ = raw["payment_id"].(string)
	p.ContractID, _ = raw["contract_id"].(string)
	p.AmountCents = asInt64(raw["amount_cents"])
	p.Reference, _ = raw["reference"].(string)
	p.Method, _ = raw["method"].(string)
	p.TransactionID, _ = raw["transaction_id"].(string)
	p.SyncStatus, _ = raw["sync_status"].(string)
	return p
}

func parseVerification(payload map[string]any) *Verification {
	raw, _ := payload["verification"].(map[string]any)
	if raw == nil {
		raw = payload
	}
	v := &Verification{Raw: raw}
	v.Status, _ = raw["status"].(string)
	v.CheckedAt, _ = raw["checked_at"].(string)
	if fields, ok := raw["fields"].([]any); ok {
		for _, rf := range fields {
			fm, ok := rf.(map[string]any)
			if !ok {
				continue
			}
			match, _ := fm["match"].(bool)
			field, _ := fm["field"].(string)
			v.Fields = append(v.Fields, FieldMatch{
				Field: field, Local: fm["local"], Ledger: fm["ledger"], Match: match,
			})
		}
	}
	return v
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

func bigInt(v int64) *big.Int {
	if v <= 1 {
		v = 1
	}
	return big.NewInt(v)
}
