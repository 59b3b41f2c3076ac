// Package platform abstracts the push-manager surface of the hosting
// platform. The push subscription is a platform-owned singleton per
// registration; callers get snapshots, never the live object.
package platform

import (
	"context"

	"github.com/vecindario/pushagent"
)

// PushManager is the platform API that owns the device's single push
// subscription.
type PushManager interface {
	// Subscription returns a snapshot of the current subscription, or nil
	// when the device has none.
	Subscription(ctx context.Context) (*pushagent.Subscription, error)

	// Subscribe registers the device with the push service using the
	// application server key. If a subscription already exists the
	// platform returns it unchanged; creating is idempotent.
	Subscribe(ctx context.Context, appServerKey []byte) (*pushagent.Subscription, error)

	// Unsubscribe drops the device's subscription. It reports false when
	// there was nothing to drop.
	Unsubscribe(ctx context.Context) (bool, error)
}
