// Package router handles push events in the service-worker context: it
// turns incoming payloads into user-visible notifications and routes
// notification clicks to the right application window. It runs in its own
// execution context and shares nothing with the page-side agent; the two
// coordinate only through the platform and the registry.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/vecindario/pushagent"
)

// Notifier is the platform's notification display surface.
type Notifier interface {
	// Show displays an OS notification. It must fully complete before
	// the push event's extended lifetime ends.
	Show(ctx context.Context, title string, opts ShowOptions) error
}

// ShowOptions carries the notification fields beyond the title.
type ShowOptions struct {
	Body      string
	Icon      string
	Badge     string
	TargetURL string // stashed on the notification for click handling
}

// Window is one open application window.
type Window interface {
	URL() string
	Focus(ctx context.Context) error
}

// Clients enumerates and opens application windows.
type Clients interface {
	MatchAll(ctx context.Context) ([]Window, error)
	OpenWindow(ctx context.Context, url string) (Window, error)
}

// Notification is a displayed notification being clicked.
type Notification interface {
	TargetURL() string
	Close(ctx context.Context) error
}

// Defaults fills notification fields the payload leaves empty.
type Defaults struct {
	Title string
	Body  string
	Icon  string
	Badge string
	URL   string
}

// Router is the worker-side push event handler. It is stateless; the
// platform delivers events one at a time per worker instance.
type Router struct {
	notifier Notifier
	clients  Clients
	defaults Defaults
}

// New creates a Router. Zero-value defaults fall back to generic portal
// values so a payload-less push still produces a meaningful notification.
func New(notifier Notifier, clients Clients, defaults Defaults) *Router {
	if defaults.Title == "" {
		defaults.Title = "Vecindario"
	}
	if defaults.Body == "" {
		defaults.Body = "Tienes una nueva notificación"
	}
	if defaults.URL == "" {
		defaults.URL = "/"
	}
	return &Router{notifier: notifier, clients: clients, defaults: defaults}
}

// HandlePush processes one push event. A payload that fails to parse still
// produces the generic notification: the push woke the device for a reason,
// and dropping it silently would hide that from the user. The show call
// completes before HandlePush returns, keeping it inside the event's
// extended lifetime.
func (r *Router) HandlePush(ctx context.Context, data []byte) error {
	var payload pushagent.NotificationPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			clog.FromContext(ctx).Warnf("unparseable push payload, showing fallback: %v", err)
			payload = pushagent.NotificationPayload{}
		}
	}

	title := payload.Title
	if title == "" {
		title = r.defaults.Title
	}
	body := payload.Body
	if body == "" {
		body = r.defaults.Body
	}
	icon := payload.Icon
	if icon == "" {
		icon = r.defaults.Icon
	}
	badge := payload.Badge
	if badge == "" {
		badge = r.defaults.Badge
	}
	target := payload.URL
	if target == "" {
		target = r.defaults.URL
	}

	if err := r.notifier.Show(ctx, title, ShowOptions{
		Body:      body,
		Icon:      icon,
		Badge:     badge,
		TargetURL: target,
	}); err != nil {
		return fmt.Errorf("showing notification: %w", err)
	}
	return nil
}

// HandleClick processes a notification click: close the notification, then
// focus an open window already at the target URL, or open a new one.
func (r *Router) HandleClick(ctx context.Context, note Notification) error {
	if err := note.Close(ctx); err != nil {
		// The notification may already be gone; routing still matters.
		clog.FromContext(ctx).Warnf("closing notification: %v", err)
	}

	target := note.TargetURL()
	if target == "" {
		target = r.defaults.URL
	}

	windows, err := r.clients.MatchAll(ctx)
	if err != nil {
		return fmt.Errorf("listing windows: %w", err)
	}
	for _, w := range windows {
		if matchesTarget(w.URL(), target) {
			if err := w.Focus(ctx); err != nil {
				return fmt.Errorf("focusing window: %w", err)
			}
			return nil
		}
	}

	if _, err := r.clients.OpenWindow(ctx, target); err != nil {
		return fmt.Errorf("opening window: %w", err)
	}
	return nil
}

// matchesTarget reports whether an open window's URL already shows the
// click-through target. Targets are app-relative paths; window URLs are
// absolute.
func matchesTarget(windowURL, target string) bool {
	if windowURL == target {
		return true
	}
	return strings.HasSuffix(windowURL, target)
}
