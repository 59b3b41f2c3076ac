// Package agent drives the push subscription lifecycle for one device: it
// reconciles the platform's subscription state with the registry at session
// start, and runs the subscribe/unsubscribe transactions the user triggers.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/vecindario/pushagent"
	"github.com/vecindario/pushagent/permission"
	"github.com/vecindario/pushagent/platform"
)

// Status is the agent's view of the device's subscription state. It is
// derived from the platform and permission state during Check, never
// trusted across sessions.
type Status string

const (
	StatusUnknown      Status = "unknown"
	StatusSubscribed   Status = "subscribed"
	StatusUnsubscribed Status = "unsubscribed"
)

// Registry is the backend the agent registers subscriptions with.
type Registry interface {
	Register(ctx context.Context, payload *pushagent.TransportPayload) error
	Deregister(ctx context.Context, userID string) error
}

// SubscribeOutcome reports how a subscribe transaction completed.
type SubscribeOutcome struct {
	// Subscription is a snapshot of the device's registration.
	Subscription *pushagent.Subscription
	// Reused is true when the device already held a subscription and no
	// new one was created. Surfaced so the UI can tell the user the
	// device was already subscribed instead of silently re-registering.
	Reused bool
}

// Config assembles an Agent's collaborators.
type Config struct {
	Gate     *permission.Gate
	Push     platform.PushManager
	Registry Registry

	// ServerKey is the registry's VAPID public key in base64url form, as
	// served by /vapid-public-key.
	ServerKey string

	// Identity is the signed-in user this device notifies.
	Identity pushagent.Identity
}

// Agent is the device-side subscription lifecycle manager. At most one
// subscribe/unsubscribe/check transaction runs at a time; concurrent
// triggers fail with ErrOperationInProgress rather than interleaving.
type Agent struct {
	gate      *permission.Gate
	push      platform.PushManager
	registry  Registry
	serverKey string
	identity  pushagent.Identity

	// op serializes lifecycle transactions. TryLock, never Lock: a
	// second trigger must be rejected, not queued.
	op sync.Mutex

	mu     sync.Mutex
	status Status
}

// New creates an Agent. A missing push manager or permission gate means the
// platform cannot deliver notifications at all.
func New(cfg Config) (*Agent, error) {
	if cfg.Push == nil || cfg.Gate == nil {
		return nil, pushagent.ErrUnsupportedPlatform
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Identity.UserID == "" {
		return nil, fmt.Errorf("identity userId is required")
	}
	return &Agent{
		gate:      cfg.Gate,
		push:      cfg.Push,
		registry:  cfg.Registry,
		serverKey: cfg.ServerKey,
		identity:  cfg.Identity,
		status:    StatusUnknown,
	}, nil
}

// Status returns the last derived subscription status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Check reconciles local state at session start. The device counts as
// subscribed only when permission is granted AND the platform holds a live
// subscription; any mismatch resolves to unsubscribed with local cleanup.
// When both hold, the subscription is re-registered with the registry:
// registration is endpoint-idempotent, so this cheaply repairs a server
// record the registry may have lost without prompting the user.
func (a *Agent) Check(ctx context.Context) (Status, error) {
	if !a.op.TryLock() {
		return a.Status(), pushagent.ErrOperationInProgress
	}
	defer a.op.Unlock()

	log := clog.FromContext(ctx)

	state, err := a.gate.Current(ctx)
	if err != nil {
		return a.Status(), fmt.Errorf("querying permission: %w", err)
	}
	sub, err := a.push.Subscription(ctx)
	if err != nil {
		return a.Status(), fmt.Errorf("querying subscription: %w", err)
	}

	if state == permission.Granted && sub != nil {
		if err := a.registry.Register(ctx, pushagent.EncodeForTransport(sub, a.identity)); err != nil {
			// Permission plus platform subscription decide the
			// status; a failed repair leaves an orphan the next
			// Check retries.
			log.Warnf("re-registering subscription during check: %v", err)
		}
		a.setStatus(StatusSubscribed)
		return StatusSubscribed, nil
	}

	if sub != nil {
		// Permission was revoked out from under a live subscription;
		// drop the stale platform state.
		if _, err := a.push.Unsubscribe(ctx); err != nil {
			log.Warnf("cleaning up stale subscription: %v", err)
		}
	}
	a.setStatus(StatusUnsubscribed)
	return StatusUnsubscribed, nil
}

// Subscribe runs the subscribe transaction: permission, key decode,
// platform subscribe, registry register, strictly in that order. A failure
// after a fresh platform subscription was created unwinds it before
// reporting, so the device is never left subscribed at the push service
// with no server record.
func (a *Agent) Subscribe(ctx context.Context) (*SubscribeOutcome, error) {
	if !a.op.TryLock() {
		return nil, pushagent.ErrOperationInProgress
	}
	defer a.op.Unlock()

	// Step 1: permission. A prior denial short-circuits without
	// re-prompting; the gate only prompts from the Prompt state.
	state, err := a.gate.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving permission: %w", err)
	}
	if state != permission.Granted {
		return nil, pushagent.ErrPermissionBlocked
	}

	// Step 2: decode the application server key before touching the push
	// service.
	key, err := pushagent.DecodeServerKey(a.serverKey)
	if err != nil {
		return nil, err
	}

	// Step 3: obtain a subscription, reusing the platform's existing one
	// when present.
	existing, err := a.push.Subscription(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	sub := existing
	fresh := false
	if sub == nil {
		sub, err = a.push.Subscribe(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("subscribing with push service: %w", err)
		}
		fresh = true
	}

	// Step 4: register server-side.
	if err := a.registry.Register(ctx, pushagent.EncodeForTransport(sub, a.identity)); err != nil {
		if fresh {
			// Unwind the platform subscription we just created so
			// it doesn't dangle without a server record. Failure
			// here is logged, not surfaced: the user can't act on
			// a cleanup error, and the original failure matters
			// more.
			if _, uerr := a.push.Unsubscribe(ctx); uerr != nil {
				clog.FromContext(ctx).Warnf("compensating unsubscribe failed: %v", uerr)
			}
		}
		return nil, fmt.Errorf("registering subscription: %w", err)
	}

	a.setStatus(StatusSubscribed)
	return &SubscribeOutcome{
		Subscription: sub.Clone(),
		Reused:       !fresh,
	}, nil
}

// Unsubscribe runs the unsubscribe transaction. The platform side goes
// first: the server record is only removed once the push service no longer
// delivers to this device. With no platform subscription there is nothing
// to do and no registry call is made.
func (a *Agent) Unsubscribe(ctx context.Context) error {
	if !a.op.TryLock() {
		return pushagent.ErrOperationInProgress
	}
	defer a.op.Unlock()

	// Re-fetch the live subscription; never trust a cached reference
	// before mutating platform state.
	sub, err := a.push.Subscription(ctx)
	if err != nil {
		return fmt.Errorf("querying subscription: %w", err)
	}
	if sub == nil {
		a.setStatus(StatusUnsubscribed)
		return nil
	}

	if _, err := a.push.Unsubscribe(ctx); err != nil {
		// The subscription may still be live; deregistering now could
		// strand a working subscription without a server record.
		return fmt.Errorf("unsubscribing from push service: %w", err)
	}

	if err := a.registry.Deregister(ctx, a.identity.UserID); err != nil {
		// The device can no longer receive pushes, so it is
		// unsubscribed regardless; the stale server record is the
		// tolerated orphan case.
		a.setStatus(StatusUnsubscribed)
		return fmt.Errorf("deregistering subscription: %w", err)
	}

	a.setStatus(StatusUnsubscribed)
	return nil
}
