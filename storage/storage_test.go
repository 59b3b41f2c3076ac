package storage

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/vecindario/pushagent"
)

func TestMemory(t *testing.T) {
	testStorage(t, NewMemory())
}

func TestSQLite(t *testing.T) {
	// Use in-memory SQLite for testing
	storage, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer storage.Close()

	testStorage(t, storage)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	storage := NewRedis(&redis.Options{Addr: addr})
	defer storage.Close()

	testStorage(t, storage)
}

func testRecord(id, userID, endpoint string) *Record {
	return &Record{
		ID:        id,
		UserID:    userID,
		UserName:  "Ana Torres",
		UserRole:  "resident",
		ComplexID: "complex-3",
		Subscription: &pushagent.Subscription{
			Endpoint: endpoint,
			Keys: pushagent.Keys{
				P256dh: "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM",
				Auth:   "tBHItJI5svbpez7KI4CCXg",
			},
		},
	}
}

func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	record := testRecord("test-id-1", "user-1", "https://push.example.com/abc123")
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Get by ID
	got, err := s.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != record.ID {
		t.Errorf("Get() ID = %q, want %q", got.ID, record.ID)
	}
	if got.UserID != record.UserID || got.UserName != record.UserName ||
		got.UserRole != record.UserRole || got.ComplexID != record.ComplexID {
		t.Errorf("Get() identity = %q/%q/%q/%q, want %q/%q/%q/%q",
			got.UserID, got.UserName, got.UserRole, got.ComplexID,
			record.UserID, record.UserName, record.UserRole, record.ComplexID)
	}
	if got.Subscription.Endpoint != record.Subscription.Endpoint {
		t.Errorf("Get() Endpoint = %q, want %q", got.Subscription.Endpoint, record.Subscription.Endpoint)
	}
	if got.CreatedAt.IsZero() {
		t.Error("Get() CreatedAt is zero")
	}

	// Get by endpoint
	got, err = s.GetByEndpoint(ctx, record.Subscription.Endpoint)
	if err != nil {
		t.Fatalf("GetByEndpoint() error = %v", err)
	}
	if got.ID != record.ID {
		t.Errorf("GetByEndpoint() ID = %q, want %q", got.ID, record.ID)
	}

	// Second record for the same user
	record2 := testRecord("test-id-2", "user-1", "https://push.example.com/def456")
	if err := s.Save(ctx, record2); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	records, err := s.GetByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("GetByUserID() count = %d, want 2", len(records))
	}

	// List with pagination
	records, err = s.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("List() count = %d, want 2", len(records))
	}
	records, err = s.List(ctx, 1, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List(1, 0) count = %d, want 1", len(records))
	}

	// Upsert: saving the same ID must not create a second record.
	record.UserName = "Ana T."
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() upsert error = %v", err)
	}
	got, err = s.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("Get() after upsert error = %v", err)
	}
	if got.UserName != "Ana T." {
		t.Errorf("upsert UserName = %q, want %q", got.UserName, "Ana T.")
	}

	// Delete by endpoint
	if err := s.DeleteByEndpoint(ctx, record2.Subscription.Endpoint); err != nil {
		t.Fatalf("DeleteByEndpoint() error = %v", err)
	}
	if err := s.DeleteByEndpoint(ctx, record2.Subscription.Endpoint); err != ErrNotFound {
		t.Errorf("second DeleteByEndpoint() error = %v, want ErrNotFound", err)
	}

	// Identity-scoped delete removes every remaining record for the user.
	removed, err := s.DeleteByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("DeleteByUserID() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteByUserID() removed = %d, want 1", removed)
	}
	removed, err = s.DeleteByUserID(ctx, "user-1")
	if err != nil {
		t.Fatalf("second DeleteByUserID() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("second DeleteByUserID() removed = %d, want 0", removed)
	}

	if _, err := s.Get(ctx, record.ID); err != ErrNotFound {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}

	// Delete of a missing ID
	if err := s.Delete(ctx, "no-such-id"); err != ErrNotFound {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestMemorySnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	record := testRecord("iso-1", "user-iso", "https://push.example.com/iso")
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Mutating the saved record or a fetched copy must not change the store.
	record.Subscription.Endpoint = "https://tampered.example.com"
	got, err := s.Get(ctx, "iso-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Subscription.Endpoint != "https://push.example.com/iso" {
		t.Error("caller mutation reached stored record")
	}
	got.UserID = "someone-else"
	again, _ := s.Get(ctx, "iso-1")
	if again.UserID != "user-iso" {
		t.Error("mutation of fetched copy reached stored record")
	}
}

func TestSQLiteManyRecords(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer s.Close()

	for i := 0; i < 25; i++ {
		r := testRecord(
			fmt.Sprintf("bulk-%02d", i),
			fmt.Sprintf("user-%d", i%5),
			fmt.Sprintf("https://push.example.com/bulk/%02d", i),
		)
		if err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
	}

	records, err := s.List(ctx, 10, 20)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 5 {
		t.Errorf("List(10, 20) count = %d, want 5", len(records))
	}

	removed, err := s.DeleteByUserID(ctx, "user-3")
	if err != nil {
		t.Fatalf("DeleteByUserID() error = %v", err)
	}
	if removed != 5 {
		t.Errorf("DeleteByUserID() removed = %d, want 5", removed)
	}
}
