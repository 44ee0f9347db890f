package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the credit ledger API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the bearer token used for authenticated calls.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string {
	return c.token
}

// APIError represents a failure response from the API.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	if e.Kind != "" {
		return fmt.Sprintf("api request failed (%d %s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return extractError(resp.StatusCode, resp.Body)
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	if body == nil {
		return apiErr
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Message string `json:"message"`
		Kind    string `json:"kind"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Message)
	apiErr.Kind = payload.Kind
	return apiErr
}

// User reflects API user payloads.
type User struct {
	Name string `json:"name"`
}

// Session is returned by Register and Login.
type Session struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// Register creates an account and stores the issued token on the client.
func (c *Client) Register(ctx context.Context, name, email, password string) (*Session, error) {
	var out Session
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/register", body, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Login authenticates and stores the issued token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

// Balance is the response of Credits.
type Balance struct {
	Credits int64 `json:"credits"`
	User    User  `json:"user"`
}

// Credits returns the caller's credit balance.
func (c *Client) Credits(ctx context.Context) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/credits", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Plan describes one catalog entry.
type Plan struct {
	ID      string `json:"id"`
	Credits int64  `json:"credits"`
	Amount  int64  `json:"amount"`
	Price   string `json:"price"`
}

// Plans lists the catalog.
func (c *Client) Plans(ctx context.Context) ([]Plan, error) {
	var out struct {
		Plans []Plan `json:"plans"`
	}
	if err := c.do(ctx, http.MethodGet, "/plans", nil, &out); err != nil {
		return nil, err
	}
	return out.Plans, nil
}

// Checkout is returned by Pay.
type Checkout struct {
	ClientSecret    string `json:"clientSecret"`
	TransactionID   string `json:"transactionId"`
	PaymentIntentID string `json:"paymentIntentId"`
}

// Pay opens a purchase of planID for the caller.
func (c *Client) Pay(ctx context.Context, planID string) (*Checkout, error) {
	var out Checkout
	if err := c.do(ctx, http.MethodPost, "/pay", map[string]string{"planId": planID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verification is returned by Verify.
type Verification struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Credited bool   `json:"credited"`
	Kind     string `json:"kind"`
	Credits  int64  `json:"credits"`
}

// Verify asks the API to reconcile a payment intent.
func (c *Client) Verify(ctx context.Context, paymentIntentID string) (*Verification, error) {
	var out Verification
	if err := c.do(ctx, http.MethodPost, "/verify", map[string]string{"paymentIntentId": paymentIntentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transaction is one ledger entry of the caller.
type Transaction struct {
	ID              string    `json:"id"`
	PlanID          string    `json:"planId"`
	Credits         int64     `json:"credits"`
	Amount          int64     `json:"amount"`
	Price           string    `json:"price"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	Payment         bool      `json:"payment"`
	PaymentIntentID string    `json:"paymentIntentId"`
}

// Transactions lists the caller's most recent ledger entries.
func (c *Client) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	path := "/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}
