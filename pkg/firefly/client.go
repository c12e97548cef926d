// Package firefly is a client for the Firefly III REST API.
package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/client"
)

// Account types requested during a sync.
const syncAccountTypes = "asset,expense,revenue"

// Defaults for Config.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultPageLimit  = 100
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second
)

// Config holds the Firefly connection settings.
type Config struct {
	// BaseURL is the instance URL, with or without the /api/v1 suffix.
	BaseURL string
	Token   string
	Timeout time.Duration
	// PageLimit is the page size requested from list endpoints.
	PageLimit  int
	Attempts   uint
	RetryDelay time.Duration
}

// APIError is a non-2xx answer from Firefly.
type APIError struct {
	StatusCode int
	Message    string
	// Errors holds per-field validation messages.
	Errors map[string][]string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("firefly: %d %s", e.StatusCode, e.Message)
	}
	fields := make([]string, 0, len(e.Errors))
	for f, msgs := range e.Errors {
		fields = append(fields, f+": "+strings.Join(msgs, "; "))
	}
	sort.Strings(fields)
	return fmt.Sprintf("firefly: %d %s (%s)", e.StatusCode, e.Message, strings.Join(fields, ", "))
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to one Firefly instance. It is safe for concurrent use.
type Client struct {
	base     *url.URL
	http     *http.Client
	limit    int
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// New returns a client authenticating with cfg.Token.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc, err := client.NewBearer(ctx, cfg.Token, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("creating firefly http client: %w", err)
	}
	return NewWithHTTPClient(hc, cfg, logger)
}

// NewWithHTTPClient returns a client that sends requests through hc, which
// must already attach credentials.
func NewWithHTTPClient(hc *http.Client, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("firefly base URL is required")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing firefly base URL: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/api/v1") {
		base.Path += "/api/v1"
	}
	base.Path += "/"

	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultPageLimit
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Client{
		base:     base,
		http:     hc,
		limit:    cfg.PageLimit,
		attempts: cfg.Attempts,
		delay:    cfg.RetryDelay,
		logger:   logger,
	}, nil
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string { return c.base.String() }

// do sends one request. GETs retry on rate limits and server errors;
// other methods only on 429, which Firefly returns before doing any work.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	retryable := func(err error) bool {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return false
		}
		if method != http.MethodGet {
			return apiErr.StatusCode == http.StatusTooManyRequests
		}
		return apiErr.Temporary()
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Accept", "application/vnd.api+json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return fmt.Errorf("%s %s: %w", method, path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				apiErr := decodeError(resp)
				c.logger.Debug("firefly request failed", "method", method, "path", path, "status", resp.StatusCode)
				return apiErr
			}
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decoding %s response: %w", path, err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.RetryIf(retryable),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying firefly request", "path", path, "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
}

func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string              `json:"message"`
		Errors  map[string][]string `json:"errors"`
	}
	if json.Unmarshal(b, &body) == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		}
		apiErr.Errors = body.Errors
	}
	return apiErr
}

// list walks every page of a list endpoint.
func list[T any](ctx context.Context, c *Client, path string, query url.Values, fn func(resource[T]) error) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", strconv.Itoa(c.limit))

	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		var resp listResponse[T]
		if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
			return err
		}
		for _, item := range resp.Data {
			if err := fn(item); err != nil {
				return err
			}
		}
		total := resp.Meta.Pagination.TotalPages
		if len(resp.Data) == 0 || (total > 0 && page >= total) || total == 0 {
			return nil
		}
	}
}

func sinceQuery(since time.Time) url.Values {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("updated_at", since.UTC().Format(time.RFC3339))
	}
	return q
}

// Accounts lists asset, expense and revenue accounts, skipping the
// reconciliation and initial-balance bookkeeping accounts.
func (c *Client) Accounts(ctx context.Context) ([]api.Account, error) {
	q := url.Values{"type": {syncAccountTypes}}
	var out []api.Account
	err := list(ctx, c, "accounts", q, func(r resource[accountAttributes]) error {
		switch r.Attributes.Type {
		case "reconciliation", "initial-balance":
			return nil
		}
		out = append(out, api.Account{
			ID:       r.ID,
			Name:     r.Attributes.Name,
			Type:     r.Attributes.Type,
			Currency: r.Attributes.CurrencyCode,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return out, nil
}

// Categories lists all categories.
func (c *Client) Categories(ctx context.Context) ([]api.Category, error) {
	var out []api.Category
	err := list(ctx, c, "categories", nil, func(r resource[categoryAttributes]) error {
		out = append(out, api.Category{ID: r.ID, Name: r.Attributes.Name})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return out, nil
}

// Bills lists all bills.
func (c *Client) Bills(ctx context.Context) ([]api.Bill, error) {
	var out []api.Bill
	err := list(ctx, c, "bills", nil, func(r resource[billAttributes]) error {
		out = append(out, api.Bill{
			ID:        r.ID,
			Name:      r.Attributes.Name,
			AmountMin: r.Attributes.AmountMin,
			AmountMax: r.Attributes.AmountMax,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	return out, nil
}

// Reference fetches accounts, categories and bills.
func (c *Client) Reference(ctx context.Context) (*api.ReferenceData, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := c.Categories(ctx)
	if err != nil {
		return nil, err
	}
	bills, err := c.Bills(ctx)
	if err != nil {
		return nil, err
	}
	return &api.ReferenceData{Accounts: accounts, Categories: categories, Bills: bills}, nil
}

// Transactions calls fn for every transaction group updated after since.
// A zero since lists everything.
func (c *Client) Transactions(ctx context.Context, since time.Time, fn func(*Group) error) error {
	err := list(ctx, c, "transactions", sinceQuery(since), func(r resource[Group]) error {
		g := r.Attributes
		if !since.IsZero() && !g.UpdatedAt.After(since) {
			return nil
		}
		g.ID = r.ID
		return fn(&g)
	})
	if err != nil {
		return fmt.Errorf("listing transactions: %w", err)
	}
	return nil
}

// CreateTransaction stores tx and returns the new group id.
func (c *Client) CreateTransaction(ctx context.Context, tx NewTransaction) (string, error) {
	var resp singleResponse[Group]
	if err := c.do(ctx, http.MethodPost, "transactions", nil, tx, &resp); err != nil {
		return "", fmt.Errorf("creating transaction: %w", err)
	}
	return resp.Data.ID, nil
}

// About returns the instance version. It doubles as a connectivity and token check.
func (c *Client) About(ctx context.Context) (*About, error) {
	var resp struct {
		Data About `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "about", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching about: %w", err)
	}
	return &resp.Data, nil
}
