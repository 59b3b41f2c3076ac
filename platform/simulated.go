package platform

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vecindario/pushagent"
)

// Simulated is an in-process PushManager for tests and development. It
// mints real P-256 subscription keys so delivery-side encryption works
// against the subscriptions it hands out.
type Simulated struct {
	// ServiceURL is the push-service origin used for minted endpoints.
	ServiceURL string

	// SubscribeErr and UnsubscribeErr, when set, make the corresponding
	// call fail.
	SubscribeErr   error
	UnsubscribeErr error

	mu      sync.Mutex
	current *pushagent.Subscription

	subscribeCalls   int
	unsubscribeCalls int
}

// NewSimulated creates a simulated push manager delivering through the
// given service origin.
func NewSimulated(serviceURL string) *Simulated {
	return &Simulated{ServiceURL: serviceURL}
}

// Subscription returns a snapshot of the current subscription, nil if none.
func (s *Simulated) Subscription(_ context.Context) (*pushagent.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone(), nil
}

// Subscribe mints a subscription for the device, or returns the existing
// one unchanged.
func (s *Simulated) Subscribe(_ context.Context, appServerKey []byte) (*pushagent.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribeCalls++
	if s.SubscribeErr != nil {
		return nil, s.SubscribeErr
	}
	if len(appServerKey) != 65 {
		return nil, fmt.Errorf("application server key must be 65 bytes, got %d", len(appServerKey))
	}
	if s.current != nil {
		return s.current.Clone(), nil
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating subscription key: %w", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return nil, fmt.Errorf("generating auth secret: %w", err)
	}

	s.current = &pushagent.Subscription{
		Endpoint: s.ServiceURL + "/push/" + uuid.New().String(),
		Keys: pushagent.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
	return s.current.Clone(), nil
}

// Unsubscribe drops the current subscription, reporting whether one existed.
func (s *Simulated) Unsubscribe(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsubscribeCalls++
	if s.UnsubscribeErr != nil {
		return false, s.UnsubscribeErr
	}
	if s.current == nil {
		return false, nil
	}
	s.current = nil
	return true, nil
}

// Seed installs a subscription directly, bypassing Subscribe. Useful for
// staging pre-subscribed devices.
func (s *Simulated) Seed(sub *pushagent.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sub.Clone()
}

// SubscribeCalls reports how many times Subscribe was invoked.
func (s *Simulated) SubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeCalls
}

// UnsubscribeCalls reports how many times Unsubscribe was invoked.
func (s *Simulated) UnsubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribeCalls
}
