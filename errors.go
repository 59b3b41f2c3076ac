package pushagent

import "errors"

var (
	// ErrPermissionBlocked means the user has denied notification
	// permission. Re-prompting is suppressed by the platform, so this is
	// not retryable without a manual settings change.
	ErrPermissionBlocked = errors.New("notification permission blocked by user")

	// ErrUnsupportedPlatform means the runtime lacks service-worker or
	// push-manager support.
	ErrUnsupportedPlatform = errors.New("push notifications not supported on this platform")

	// ErrInvalidKeyFormat means the server's VAPID application key did not
	// decode to an uncompressed P-256 public key.
	ErrInvalidKeyFormat = errors.New("invalid application server key format")

	// ErrOperationInProgress means a subscribe or unsubscribe transaction
	// is already in flight for this session.
	ErrOperationInProgress = errors.New("subscription operation already in progress")

	// ErrServerRejected means the subscription registry answered with a
	// non-success status.
	ErrServerRejected = errors.New("subscription registry rejected the request")
)
