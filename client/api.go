package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/ledger"
)

// Client calls the kas HTTP API with the token held by its store
type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenStore
	logger auth.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTokenStore(store TokenStore) ClientOption {
	return func(c *Client) {
		if store != nil {
			c.tokens = store
		}
	}
}

func WithClientLogger(logger auth.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: NewMultiStore(NewMemoryBackend()),
		logger: auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

func (c *Client) BaseURL() *url.URL { return c.base }

func (c *Client) Tokens() TokenStore { return c.tokens }

// LoginResponse is the body returned by both login surfaces
type LoginResponse struct {
	Message   string            `json:"message"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      auth.UserResponse `json:"user"`
}

// Login calls the student surface. The token is not stored, callers
// decide once they checked the role.
func (c *Client) Login(ctx context.Context, username, password string, rememberMe bool) (*LoginResponse, error) {
	out := &LoginResponse{}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, map[string]any{
		"username":   username,
		"password":   password,
		"rememberMe": rememberMe,
	}, out)
	return out, err
}

func (c *Client) AdminLogin(ctx context.Context, username, password string) (*LoginResponse, error) {
	out := &LoginResponse{}
	err := c.do(ctx, http.MethodPost, "/api/auth/admin-login", nil, map[string]any{
		"username": username,
		"password": password,
	}, out)
	return out, err
}

// Me asks the server who the stored token belongs to
func (c *Client) Me(ctx context.Context) (*auth.UserResponse, error) {
	out := struct {
		User auth.UserResponse `json:"user"`
	}{}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
}

func (c *Client) SubmitTransaction(ctx context.Context, payload ledger.TransactionSubmitPayload) (*ledger.Transaction, error) {
	out := struct {
		Transaction *ledger.Transaction `json:"transaction"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/api/transactions", nil, payload, &out); err != nil {
		return nil, err
	}
	return out.Transaction, nil
}

func (c *Client) TransactionHistory(ctx context.Context) ([]*ledger.Transaction, error) {
	return c.transactions(ctx, "/api/transactions", nil)
}

// AdminTransactions lists every transaction, an empty status means all
func (c *Client) AdminTransactions(ctx context.Context, status ledger.TransactionStatus) ([]*ledger.Transaction, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	return c.transactions(ctx, "/api/admin/transactions", q)
}

func (c *Client) transactions(ctx context.Context, path string, q url.Values) ([]*ledger.Transaction, error) {
	out := struct {
		Transactions []*ledger.Transaction `json:"transactions"`
	}{}
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

func (c *Client) Approve(ctx context.Context, id string) (*ledger.Transaction, error) {
	return c.resolve(ctx, id, "approve")
}

func (c *Client) Reject(ctx context.Context, id string) (*ledger.Transaction, error) {
	return c.resolve(ctx, id, "reject")
}

func (c *Client) resolve(ctx context.Context, id, action string) (*ledger.Transaction, error) {
	out := struct {
		Transaction *ledger.Transaction `json:"transaction"`
	}{}
	path := "/api/admin/transactions/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Transaction, nil
}

// WeeklyPayments is the weekly payment listing, UnpaidAmount is only set
// when the listing is scoped to one student.
type WeeklyPayments struct {
	Payments     []*ledger.WeeklyPayment `json:"payments"`
	UnpaidAmount *int64                  `json:"unpaidAmount"`
}

func (c *Client) WeeklyPayments(ctx context.Context, studentID string, year, month int) (*WeeklyPayments, error) {
	q := url.Values{}
	if studentID != "" {
		q.Set("studentId", studentID)
	}
	if year > 0 {
		q.Set("year", fmt.Sprint(year))
	}
	if month > 0 {
		q.Set("month", fmt.Sprint(month))
	}

	out := &WeeklyPayments{}
	if err := c.do(ctx, http.MethodGet, "/api/weekly-payments", q, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ProcessPayment(ctx context.Context, studentID string, amount int64) (*ledger.PaymentResult, error) {
	out := &ledger.PaymentResult{}
	err := c.do(ctx, http.MethodPost, "/api/weekly-payments/process", nil, ledger.ProcessPaymentPayload{
		StudentID: studentID,
		Amount:    amount,
	}, out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GenerateWeekly(ctx context.Context, year, month int) (int, error) {
	out := struct {
		Generated int `json:"entriesGenerated"`
	}{}
	err := c.do(ctx, http.MethodPost, "/api/weekly-payments/generate", nil, ledger.GeneratePayload{
		Year:  year,
		Month: month,
	}, &out)
	return out.Generated, err
}

func (c *Client) Summary(ctx context.Context) (*ledger.Summary, error) {
	out := &ledger.Summary{}
	if err := c.do(ctx, http.MethodGet, "/api/admin/summary", nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Statistics(ctx context.Context) (*ledger.Statistics, error) {
	out := struct {
		Statistics *ledger.Statistics `json:"statistics"`
	}{}
	if err := c.do(ctx, http.MethodGet, "/api/statistics", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Statistics, nil
}

type errorBody struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Errors  map[string]string `json:"errors"`
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Retrieve(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "unable to read response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to decode response")
	}
	return nil
}

// decodeError turns an error body into a rich error carrying the status
func decodeError(status int, raw []byte) *goerrors.Error {
	body := errorBody{}
	_ = json.Unmarshal(raw, &body)
	if body.Message == "" {
		body.Message = http.StatusText(status)
	}

	var err *goerrors.Error
	if len(body.Errors) > 0 {
		err = goerrors.NewValidationFromMap(body.Message, body.Errors)
	} else {
		err = goerrors.New(body.Message, goerrors.HTTPStatusToCategory(status))
	}

	code := body.Code
	if code == "" {
		code = goerrors.HTTPStatusToTextCode(status)
	}
	return err.WithCode(status).WithTextCode(code)
}
