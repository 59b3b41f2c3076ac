// Package permission models the platform's notification-permission surface.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the platform's notification permission for this origin.
type State string

const (
	Granted State = "granted"
	Denied  State = "denied"
	Prompt  State = "prompt"
)

// ErrPromptInFlight is returned when a permission request is issued while
// another one is still waiting on the user.
var ErrPromptInFlight = errors.New("permission prompt already in flight")

// Prompter is the raw platform permission API: a state query plus a
// user-facing prompt that suspends until the user responds.
type Prompter interface {
	// Permission reports the current permission state without prompting.
	Permission(ctx context.Context) (State, error)

	// RequestPermission shows the platform prompt and blocks until the
	// user grants or denies. Resolves only through user interaction.
	RequestPermission(ctx context.Context) (State, error)
}

// Gate wraps a Prompter with the two invariants the subscribe flow relies
// on: a denied state short-circuits without re-prompting (platforms suppress
// the prompt anyway, so re-asking would hang or silently deny), and at most
// one prompt is ever shown at a time.
type Gate struct {
	prompter Prompter

	mu        sync.Mutex
	prompting bool
}

// NewGate creates a Gate over the given platform prompter.
func NewGate(p Prompter) *Gate {
	return &Gate{prompter: p}
}

// Current reports the platform's permission state.
func (g *Gate) Current(ctx context.Context) (State, error) {
	return g.prompter.Permission(ctx)
}

// Request resolves the permission to a terminal state, prompting the user
// only when the state is still Prompt. A Denied state is returned as-is
// without touching the platform prompt. Concurrent calls beyond the first
// fail with ErrPromptInFlight.
func (g *Gate) Request(ctx context.Context) (State, error) {
	state, err := g.prompter.Permission(ctx)
	if err != nil {
		return "", fmt.Errorf("querying permission: %w", err)
	}
	if state != Prompt {
		return state, nil
	}

	g.mu.Lock()
	if g.prompting {
		g.mu.Unlock()
		return "", ErrPromptInFlight
	}
	g.prompting = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.prompting = false
		g.mu.Unlock()
	}()

	result, err := g.prompter.RequestPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("requesting permission: %w", err)
	}
	// Dismissing the prompt leaves the state at Prompt on some platforms;
	// treat anything but an explicit grant as denied for this attempt.
	if result != Granted {
		return Denied, nil
	}
	return Granted, nil
}
