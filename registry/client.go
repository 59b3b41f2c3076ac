// Package registry implements both sides of the subscription registry API:
// the client a device uses to register and deregister itself, and the HTTP
// server that persists subscription records.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vecindario/pushagent"
)

// Client talks to a subscription registry server on behalf of one device.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a registry client against the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Register persists the device's subscription server-side. Registering the
// same endpoint twice updates the existing record rather than duplicating
// it.
func (c *Client) Register(ctx context.Context, payload *pushagent.TransportPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/subscribe", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registering subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", pushagent.ErrServerRejected, resp.StatusCode, string(msg))
	}
	return nil
}

// Deregister removes every record for the user. The route is scoped by
// identity, not endpoint, so it works even when the device no longer holds
// its subscription object. A 404 means the goal state already holds and is
// treated as success.
func (c *Client) Deregister(ctx context.Context, userID string) error {
	target := c.baseURL + "/unsubscribe/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deregistering subscription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", pushagent.ErrServerRejected, resp.StatusCode, string(msg))
	}
	return nil
}
