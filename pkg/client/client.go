package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client wraps the control-plane HTTP API for CLI usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the control plane at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// UpsertRequest mirrors the control plane's upsert body.
type UpsertRequest struct {
	InterestID    string   `json:"interest_id"`
	Accounts      []string `json:"accounts,omitempty"`
	AccountOwners []string `json:"account_owners,omitempty"`
	TxInclude     []string `json:"transaction_accounts_include,omitempty"`
	TxRequired    []string `json:"transaction_accounts_required,omitempty"`
	IncludeFailed bool     `json:"include_failed,omitempty"`
}

// MutationResponse is the control plane's reply to upsert and remove.
type MutationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ListInterests returns the active interest ids.
func (c *Client) ListInterests(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/interests", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach control plane: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control plane returned %s", resp.Status)
	}

	out := make(map[string]string)
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid listing response: %w", err)
	}
	return out, nil
}

// UpsertInterest installs or replaces an interest and waits for the
// pipeline to acknowledge it.
func (c *Client) UpsertInterest(ctx context.Context, req UpsertRequest) (*MutationResponse, error) {
	return c.mutate(ctx, "/interests/upsert", req)
}

// RemoveInterest deletes an interest.
func (c *Client) RemoveInterest(ctx context.Context, interestID string) (*MutationResponse, error) {
	return c.mutate(ctx, "/interests/remove", map[string]string{"interest_id": interestID})
}

func (c *Client) mutate(ctx context.Context, path string, body interface{}) (*MutationResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach control plane: %w", err)
	}
	defer resp.Body.Close()

	var out MutationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid mutation response (%s): %w", resp.Status, err)
	}
	if !out.Success {
		return &out, fmt.Errorf("mutation rejected (%s): %s", resp.Status, out.Message)
	}
	return &out, nil
}
