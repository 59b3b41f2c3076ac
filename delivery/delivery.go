// Package delivery sends encrypted Web Push messages to subscription
// endpoints using VAPID authentication. It is the server-side producer of
// the push events the worker router consumes.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/vecindario/pushagent"
)

// Signer provides VAPID signing.
type Signer interface {
	// Sign signs the given digest and returns an IEEE P1363 signature.
	Sign(ctx context.Context, data []byte) ([]byte, error)
	// PublicKey returns the public key as an uncompressed P-256 point.
	PublicKey() []byte
}

// Options configures one push message.
type Options struct {
	TTL     int    // Time-to-live in seconds (default 2419200 = 4 weeks)
	Urgency string // very-low, low, normal, high
	Topic   string // Topic for message replacement
}

// StatusError reports a non-success response from the push service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

// Gone reports whether the error means the subscription no longer exists at
// the push service and its record should be pruned.
func Gone(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone
}

// Client delivers push messages.
type Client struct {
	signer     Signer
	httpClient *http.Client
	subject    string // VAPID subject (mailto: or https: URL)
}

// NewClient creates a delivery client signing as the given subject.
func NewClient(signer Signer, subject string) *Client {
	return &Client{
		signer:     signer,
		httpClient: http.DefaultClient,
		subject:    subject,
	}
}

// WithHTTPClient sets a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// SendNotification delivers a notification payload to the subscription.
func (c *Client) SendNotification(ctx context.Context, sub *pushagent.Subscription, payload *pushagent.NotificationPayload, opts *Options) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	return c.Send(ctx, sub, data, opts)
}

// Send delivers an opaque payload to the subscription.
func (c *Client) Send(ctx context.Context, sub *pushagent.Subscription, payload []byte, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	if opts.TTL == 0 {
		opts.TTL = 2419200 // 4 weeks default
	}

	ciphertext, err := encrypt(sub, payload)
	if err != nil {
		return fmt.Errorf("encrypting payload: %w", err)
	}

	vapidHeader, err := c.vapidHeader(ctx, sub.Endpoint)
	if err != nil {
		return fmt.Errorf("creating VAPID header: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(ciphertext))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", vapidHeader)
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("TTL", strconv.Itoa(opts.TTL))
	if opts.Urgency != "" {
		req.Header.Set("Urgency", opts.Urgency)
	}
	if opts.Topic != "" {
		req.Header.Set("Topic", opts.Topic)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
