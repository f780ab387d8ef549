package vaultlinesdk

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
)

// Client is a minimal Vaultline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Staker represents the API staker model. Amounts are decimal strings.
type Staker struct {
	Address           string `json:"address"`
	TokenStaked       string `json:"token_staked"`
	TokensAllocated   string `json:"tokens_allocated"`
	TokensLocked      string `json:"tokens_locked"`
	TokensLockedUntil uint64 `json:"tokens_locked_until"`
	TokensAvailable   string `json:"tokens_available"`
}

// Allocation represents stake pledged to an escrow.
type Allocation struct {
	EscrowAddress string `json:"escrow_address"`
	Staker        string `json:"staker"`
	Tokens        string `json:"tokens"`
	CreatedAt     uint64 `json:"created_at"`
	ClosedAt      uint64 `json:"closed_at"`
}

// Escrow represents the API escrow model (partial).
type Escrow struct {
	Address            string `json:"address"`
	Token              string `json:"token"`
	Status             string `json:"status"`
	Launcher           string `json:"launcher"`
	Canceler           string `json:"canceler"`
	Expiration         uint64 `json:"expiration"`
	BulkMaxValue       string `json:"bulk_max_value"`
	RemainingSolutions uint64 `json:"remaining_solutions"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Stake stakes tokens for the authenticated actor.
func (c *Client) Stake(ctx context.Context, amount string) (Staker, error) {
	var resp Staker
	err := c.do(ctx, http.MethodPost, "v0/stakers/stake", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// Unstake schedules tokens for release behind the lock period.
func (c *Client) Unstake(ctx context.Context, amount string) (Staker, error) {
	var resp Staker
	err := c.do(ctx, http.MethodPost, "v0/stakers/unstake", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// Withdraw releases a matured lock and returns the amount withdrawn.
func (c *Client) Withdraw(ctx context.Context) (string, error) {
	var resp struct {
		Withdrawn string `json:"withdrawn"`
	}
	err := c.do(ctx, http.MethodPost, "v0/stakers/withdraw", nil, &resp)
	return resp.Withdrawn, err
}

// GetStaker fetches a staker by address.
func (c *Client) GetStaker(ctx context.Context, address string) (Staker, error) {
	var resp Staker
	err := c.do(ctx, http.MethodGet, "v0/stakers/"+url.PathEscape(address), nil, &resp)
	return resp, err
}

// Allocate pledges stake against an escrow.
func (c *Client) Allocate(ctx context.Context, escrowAddress, tokens string) (Allocation, error) {
	body := map[string]any{
		"escrow_address": escrowAddress,
		"tokens":         tokens,
	}
	var resp Allocation
	err := c.do(ctx, http.MethodPost, "v0/allocations", body, &resp)
	return resp, err
}

// CloseAllocation closes the caller's allocation on a completed escrow.
func (c *Client) CloseAllocation(ctx context.Context, escrowAddress string) (Allocation, error) {
	var resp Allocation
	endpoint := fmt.Sprintf("v0/allocations/%s/close", url.PathEscape(escrowAddress))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateEscrow launches a new escrow.
func (c *Client) CreateEscrow(ctx context.Context, canceler string, trustedHandlers []string) (Escrow, error) {
	body := map[string]any{
		"canceler":         canceler,
		"trusted_handlers": trustedHandlers,
	}
	var resp Escrow
	err := c.do(ctx, http.MethodPost, "v0/escrows", body, &resp)
	return resp, err
}

// GetEscrow fetches an escrow by address.
func (c *Client) GetEscrow(ctx context.Context, address string) (Escrow, error) {
	var resp Escrow
	err := c.do(ctx, http.MethodGet, "v0/escrows/"+url.PathEscape(address), nil, &resp)
	return resp, err
}

// BulkPayout pays recipients from an escrow. It returns whether the payout ran.
func (c *Client) BulkPayout(ctx context.Context, address string, recipients, amounts []string) (bool, error) {
	body := map[string]any{
		"recipients": recipients,
		"amounts":    amounts,
	}
	var resp struct {
		Paid bool `json:"paid"`
	}
	endpoint := fmt.Sprintf("v0/escrows/%s/payouts", url.PathEscape(address))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Paid, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
