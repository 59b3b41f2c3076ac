package platform

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func serverKey(t *testing.T) []byte {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return priv.PublicKey().Bytes()
}

func TestSimulatedSubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr := NewSimulated("https://push.example.com")
	key := serverKey(t)

	first, err := mgr.Subscribe(ctx, key)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	second, err := mgr.Subscribe(ctx, key)
	if err != nil {
		t.Fatalf("second Subscribe() error = %v", err)
	}
	if first.Endpoint != second.Endpoint {
		t.Errorf("second Subscribe() minted a new endpoint: %q vs %q", first.Endpoint, second.Endpoint)
	}
	if first.Keys != second.Keys {
		t.Error("second Subscribe() changed subscription keys")
	}
}

func TestSimulatedSubscriptionKeys(t *testing.T) {
	ctx := context.Background()
	mgr := NewSimulated("https://push.example.com")

	sub, err := mgr.Subscribe(ctx, serverKey(t))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	p256dh, err := base64.RawURLEncoding.DecodeString(sub.Keys.P256dh)
	if err != nil {
		t.Fatalf("p256dh not base64url: %v", err)
	}
	if _, err := ecdh.P256().NewPublicKey(p256dh); err != nil {
		t.Errorf("p256dh is not a valid P-256 point: %v", err)
	}
	auth, err := base64.RawURLEncoding.DecodeString(sub.Keys.Auth)
	if err != nil {
		t.Fatalf("auth not base64url: %v", err)
	}
	if len(auth) != 16 {
		t.Errorf("auth secret length = %d, want 16", len(auth))
	}
}

func TestSimulatedRejectsBadServerKey(t *testing.T) {
	mgr := NewSimulated("https://push.example.com")
	if _, err := mgr.Subscribe(context.Background(), make([]byte, 32)); err == nil {
		t.Fatal("Subscribe() with 32-byte key should fail")
	}
}

func TestSimulatedUnsubscribe(t *testing.T) {
	ctx := context.Background()
	mgr := NewSimulated("https://push.example.com")

	existed, err := mgr.Unsubscribe(ctx)
	if err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if existed {
		t.Error("Unsubscribe() on fresh manager reported an existing subscription")
	}

	if _, err := mgr.Subscribe(ctx, serverKey(t)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	existed, err = mgr.Unsubscribe(ctx)
	if err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if !existed {
		t.Error("Unsubscribe() did not report the dropped subscription")
	}

	sub, err := mgr.Subscription(ctx)
	if err != nil {
		t.Fatalf("Subscription() error = %v", err)
	}
	if sub != nil {
		t.Errorf("Subscription() after unsubscribe = %+v, want nil", sub)
	}
}

func TestSimulatedSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	mgr := NewSimulated("https://push.example.com")
	if _, err := mgr.Subscribe(ctx, serverKey(t)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	snap, _ := mgr.Subscription(ctx)
	snap.Endpoint = "https://tampered.example.com"

	fresh, _ := mgr.Subscription(ctx)
	if fresh.Endpoint == snap.Endpoint {
		t.Error("mutating a snapshot leaked into the manager's state")
	}
}
