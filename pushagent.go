// Package pushagent provides the shared data model for managing Web Push
// subscriptions on behalf of a portal user: the subscription and identity
// types exchanged with the subscription registry, the notification payload
// delivered through the push service, and the codec for the server's VAPID
// application key.
package pushagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subscription is the push-service registration for one device. The platform
// push manager owns the live object; everything here is a serialized snapshot.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Keys contains the subscription's encryption material.
type Keys struct {
	P256dh string `json:"p256dh"` // Device's ECDH public key
	Auth   string `json:"auth"`   // Device's authentication secret
}

// Identity ties a subscription to the portal user it notifies.
type Identity struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserRole  string `json:"userRole"`
	ComplexID string `json:"userComplexId"`
}

// NotificationPayload is the transient message carried by one push event.
// All fields are optional; the router applies defaults for missing ones.
type NotificationPayload struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
	URL   string `json:"url,omitempty"` // click-through target
}

// ParseSubscription parses and validates a subscription snapshot from JSON.
func ParseSubscription(data []byte) (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("unmarshaling subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, errors.New("subscription endpoint is required")
	}
	if sub.Keys.P256dh == "" {
		return nil, errors.New("subscription p256dh key is required")
	}
	if sub.Keys.Auth == "" {
		return nil, errors.New("subscription auth key is required")
	}
	if !strings.HasPrefix(sub.Endpoint, "https://") {
		return nil, errors.New("subscription endpoint must use HTTPS")
	}
	return &sub, nil
}

// Clone returns an independent copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
