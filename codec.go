package pushagent

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// serverKeyLength is the size of an uncompressed P-256 public key point,
// the only key shape PushManager.subscribe accepts.
const serverKeyLength = 65

// DecodeServerKey converts a server-issued VAPID public key from its
// base64url string form into the raw bytes the push manager expects. The
// input may arrive unpadded and with URL-safe characters; both are
// normalized before decoding. A decoded length other than 65 bytes is
// rejected with ErrInvalidKeyFormat rather than passed through to the
// platform.
func DecodeServerKey(key string) ([]byte, error) {
	if pad := len(key) % 4; pad != 0 {
		key += strings.Repeat("=", 4-pad)
	}
	key = strings.ReplaceAll(key, "-", "+")
	key = strings.ReplaceAll(key, "_", "/")

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	if len(raw) != serverKeyLength {
		return nil, fmt.Errorf("%w: decoded to %d bytes, want %d", ErrInvalidKeyFormat, len(raw), serverKeyLength)
	}
	return raw, nil
}

// EncodeServerKey is the inverse of DecodeServerKey, producing the
// base64url form served to devices.
func EncodeServerKey(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// TransportPayload is the body of a registry /subscribe request: the
// subscription snapshot flattened together with the owning user's identity.
type TransportPayload struct {
	Endpoint  string `json:"endpoint"`
	Keys      Keys   `json:"keys"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserRole  string `json:"userRole"`
	ComplexID string `json:"userComplexId"`
}

// EncodeForTransport combines a subscription snapshot with the caller's
// identity into a registry payload. The subscription is copied, never
// mutated.
func EncodeForTransport(sub *Subscription, id Identity) *TransportPayload {
	return &TransportPayload{
		Endpoint:  sub.Endpoint,
		Keys:      sub.Keys,
		UserID:    id.UserID,
		UserName:  id.UserName,
		UserRole:  id.UserRole,
		ComplexID: id.ComplexID,
	}
}

// Subscription reconstructs the subscription snapshot embedded in the
// payload.
func (p *TransportPayload) Subscription() *Subscription {
	return &Subscription{Endpoint: p.Endpoint, Keys: p.Keys}
}

// Identity reconstructs the identity fields embedded in the payload.
func (p *TransportPayload) Identity() Identity {
	return Identity{
		UserID:    p.UserID,
		UserName:  p.UserName,
		UserRole:  p.UserRole,
		ComplexID: p.ComplexID,
	}
}
