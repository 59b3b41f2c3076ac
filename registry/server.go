package registry

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/vecindario/pushagent"
	"github.com/vecindario/pushagent/storage"
)

// Server is the registry backend: it owns the subscription records and is
// the source of truth for whether a device is subscribed.
type Server struct {
	store     storage.Storage
	publicKey string // base64url application server key served to devices
}

// NewServer creates a registry server over the given storage. publicKey is
// the VAPID application server key devices subscribe with.
func NewServer(store storage.Storage, publicKey string) *Server {
	return &Server{store: store, publicKey: publicKey}
}

// Handler returns the registry's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /vapid-public-key", instrument("vapid_public_key", s.handlePublicKey))
	mux.HandleFunc("POST /subscribe", instrument("subscribe", s.handleSubscribe))
	mux.HandleFunc("POST /unsubscribe/{userId}", instrument("unsubscribe", s.handleUnsubscribe))
	return mux
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"publicKey": s.publicKey,
	})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	var payload pushagent.TransportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	sub := payload.Subscription()
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		http.Error(w, "invalid subscription", http.StatusBadRequest)
		return
	}
	if payload.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	// One active record per endpoint: re-registration refreshes the
	// identity fields in place. This is what makes device-side
	// re-registration (orphan repair, session-start reconciliation) a
	// cheap idempotent call.
	record, err := s.store.GetByEndpoint(ctx, sub.Endpoint)
	switch {
	case err == nil:
		record.UserID = payload.UserID
		record.UserName = payload.UserName
		record.UserRole = payload.UserRole
		record.ComplexID = payload.ComplexID
		record.Subscription = sub
		if err := s.store.Save(ctx, record); err != nil {
			log.Errorf("refreshing subscription %s: %v", record.ID, err)
			http.Error(w, "failed to save subscription", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"id":      record.ID,
			"message": "already subscribed",
		})
		return
	case errors.Is(err, storage.ErrNotFound):
		// fall through to create
	default:
		log.Errorf("looking up endpoint: %v", err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}

	record = &storage.Record{
		ID:           uuid.New().String(),
		UserID:       payload.UserID,
		UserName:     payload.UserName,
		UserRole:     payload.UserRole,
		ComplexID:    payload.ComplexID,
		Subscription: sub,
	}
	if err := s.store.Save(ctx, record); err != nil {
		log.Errorf("saving subscription: %v", err)
		http.Error(w, "failed to save subscription", http.StatusInternalServerError)
		return
	}

	log.Infof("new subscription %s for user %s", record.ID, record.UserID)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      record.ID,
		"message": "subscribed",
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := clog.FromContext(ctx)

	userID := r.PathValue("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	removed, err := s.store.DeleteByUserID(ctx, userID)
	if err != nil {
		log.Errorf("deleting subscriptions for %s: %v", userID, err)
		http.Error(w, "failed to delete subscription", http.StatusInternalServerError)
		return
	}

	// Deleting an absent record still reaches the goal state; answer 2xx
	// either way so deregistration stays idempotent for the device.
	if removed == 0 {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "no active subscription",
		})
		return
	}

	log.Infof("unsubscribed user %s (%d records)", userID, removed)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "unsubscribed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
