package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vecindario/pushagent"
	"github.com/vecindario/pushagent/storage"
)

func testPayload(userID, endpoint string) *pushagent.TransportPayload {
	return pushagent.EncodeForTransport(
		&pushagent.Subscription{
			Endpoint: endpoint,
			Keys: pushagent.Keys{
				P256dh: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM",
				Auth:   "tBHItJI5svbpez7KI4CCXg",
			},
		},
		pushagent.Identity{
			UserID:    userID,
			UserName:  "Ana Torres",
			UserRole:  "resident",
			ComplexID: "complex-3",
		},
	)
}

func newTestServer(t *testing.T) (*Client, storage.Storage) {
	t.Helper()
	store := storage.NewMemory()
	srv := httptest.NewServer(NewServer(store, "test-public-key").Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL).WithHTTPClient(srv.Client()), store
}

func TestRegisterCreatesRecord(t *testing.T) {
	ctx := context.Background()
	client, store := newTestServer(t)

	payload := testPayload("user-1", "https://push.example.com/abc")
	if err := client.Register(ctx, payload); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	record, err := store.GetByEndpoint(ctx, payload.Endpoint)
	if err != nil {
		t.Fatalf("GetByEndpoint() error = %v", err)
	}
	if record.UserID != "user-1" || record.UserName != "Ana Torres" ||
		record.UserRole != "resident" || record.ComplexID != "complex-3" {
		t.Errorf("stored identity = %q/%q/%q/%q, want user-1/Ana Torres/resident/complex-3",
			record.UserID, record.UserName, record.UserRole, record.ComplexID)
	}
}

func TestRegisterIsEndpointIdempotent(t *testing.T) {
	ctx := context.Background()
	client, store := newTestServer(t)

	payload := testPayload("user-1", "https://push.example.com/abc")
	if err := client.Register(ctx, payload); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := client.Register(ctx, payload); err != nil {
		t.Fatalf("second Register() error = %v", err)
	}

	records, err := store.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("record count after double register = %d, want 1", len(records))
	}
}

func TestRegisterRefreshesIdentity(t *testing.T) {
	ctx := context.Background()
	client, store := newTestServer(t)

	if err := client.Register(ctx, testPayload("user-1", "https://push.example.com/abc")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	// Same device, different signed-in user: record is re-pointed.
	second := testPayload("user-2", "https://push.example.com/abc")
	second.UserName = "Carlos Ruiz"
	if err := client.Register(ctx, second); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	record, err := store.GetByEndpoint(ctx, "https://push.example.com/abc")
	if err != nil {
		t.Fatalf("GetByEndpoint() error = %v", err)
	}
	if record.UserID != "user-2" || record.UserName != "Carlos Ruiz" {
		t.Errorf("record identity = %q/%q, want user-2/Carlos Ruiz", record.UserID, record.UserName)
	}
}

func TestRegisterRejectsInvalidPayloads(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestServer(t)

	tests := []struct {
		name    string
		payload *pushagent.TransportPayload
	}{
		{"missing endpoint", testPayload("user-1", "")},
		{"missing user", testPayload("", "https://push.example.com/abc")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Register(ctx, tt.payload)
			if !errors.Is(err, pushagent.ErrServerRejected) {
				t.Errorf("Register() error = %v, want ErrServerRejected", err)
			}
		})
	}
}

func TestDeregister(t *testing.T) {
	ctx := context.Background()
	client, store := newTestServer(t)

	if err := client.Register(ctx, testPayload("user-1", "https://push.example.com/abc")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := client.Deregister(ctx, "user-1"); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if _, err := store.GetByEndpoint(ctx, "https://push.example.com/abc"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("record still present after deregister: err = %v", err)
	}

	// Already absent is still success.
	if err := client.Deregister(ctx, "user-1"); err != nil {
		t.Errorf("idempotent Deregister() error = %v", err)
	}
	if err := client.Deregister(ctx, "never-registered"); err != nil {
		t.Errorf("Deregister() of unknown user error = %v", err)
	}
}

func TestDeregisterTreats404AsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(srv.URL).WithHTTPClient(srv.Client())
	if err := client.Deregister(context.Background(), "user-1"); err != nil {
		t.Errorf("Deregister() on 404 error = %v, want nil", err)
	}
}

func TestRegisterNetworkError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	err := client.Register(context.Background(), testPayload("user-1", "https://push.example.com/abc"))
	if err == nil {
		t.Fatal("Register() against closed port should fail")
	}
	if errors.Is(err, pushagent.ErrServerRejected) {
		t.Error("transport failure misclassified as server rejection")
	}
}

func TestPublicKeyEndpoint(t *testing.T) {
	store := storage.NewMemory()
	srv := httptest.NewServer(NewServer(store, "the-app-server-key").Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/vapid-public-key")
	if err != nil {
		t.Fatalf("GET /vapid-public-key error = %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["publicKey"] != "the-app-server-key" {
		t.Errorf("publicKey = %q, want %q", body["publicKey"], "the-app-server-key")
	}
}
