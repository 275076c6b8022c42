// Package agentfleet is a Go client for the agentfleetd status API.
package agentfleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the status API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Balance is the native-currency balance of an account in display units.
type Balance struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// Account is the latest status of one orchestrated account.
type Account struct {
	Index             int             `json:"index"`
	Address           string          `json:"address"`
	Stats             json.RawMessage `json:"stats,omitempty"`
	Balance           Balance         `json:"balance"`
	Stage             string          `json:"stage"`
	Message           string          `json:"message"`
	ResumeAt          time.Time       `json:"resume_at"`
	InteractionsToday int             `json:"interactions_today"`
	QuotaLimit        int             `json:"quota_limit"`
	Stopped           bool            `json:"stopped"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Health summarises how many accounts are still running.
type Health struct {
	Accounts int `json:"accounts"`
	Running  int `json:"running"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agentfleet api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the status API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the status API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAccessToken sets the bearer token sent with every request.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = strings.TrimSpace(token)
}

// Accounts lists every account ordered by index.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	var out struct {
		Accounts []Account `json:"accounts"`
	}
	if err := c.get(ctx, "/api/v1/accounts", &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// Account fetches a single account by its 1-based index.
func (c *Client) Account(ctx context.Context, index int) (Account, error) {
	var acct Account
	if err := c.get(ctx, "/api/v1/accounts/"+strconv.Itoa(index), &acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Health queries the unauthenticated health probe.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.get(ctx, "/healthz", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.ResolveReference(rel).String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
