// Command registryd runs the subscription registry backend: it stores
// device subscriptions, serves the VAPID application server key, and
// delivers push broadcasts to every registered device.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"

	"github.com/vecindario/pushagent"
	"github.com/vecindario/pushagent/delivery"
	"github.com/vecindario/pushagent/keys"
	"github.com/vecindario/pushagent/registry"
	"github.com/vecindario/pushagent/storage"
)

type config struct {
	Addr string `env:"ADDR, default=:8080"`

	// SQLite is the default store; setting REDIS_ADDR switches to Redis.
	DBPath        string `env:"DB_PATH, default=subscriptions.db"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB, default=0"`

	// The PEM file signer is the default; setting KMS_KEY_NAME switches
	// to Cloud KMS.
	VAPIDKeyPath string `env:"VAPID_KEY_PATH, default=vapid-private.pem"`
	KMSKeyName   string `env:"KMS_KEY_NAME"`
	Subject      string `env:"VAPID_SUBJECT, default=mailto:admin@vecindario.example"`
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := clog.New(slog.Default().Handler())
	ctx := clog.WithLogger(context.Background(), log)

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("processing config: %v", err)
	}

	signer, err := newSigner(ctx, cfg)
	if err != nil {
		log.Fatalf("initializing VAPID signer: %v", err)
	}
	publicKey := pushagent.EncodeServerKey(signer.PublicKey())
	log.Infof("VAPID public key: %s", publicKey)

	store, err := newStorage(cfg)
	if err != nil {
		log.Fatalf("initializing storage: %v", err)
	}
	defer store.Close()

	pusher := delivery.NewClient(signer, cfg.Subject)
	server := registry.NewServer(store, publicKey)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /push", handleBroadcast(store, pusher))

	log.Infof("registry listening on %s", cfg.Addr)
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func newSigner(ctx context.Context, cfg config) (delivery.Signer, error) {
	if cfg.KMSKeyName != "" {
		return keys.NewKMSSigner(ctx, cfg.KMSKeyName)
	}
	if _, err := os.Stat(cfg.VAPIDKeyPath); os.IsNotExist(err) {
		clog.FromContext(ctx).Infof("generating VAPID key at %s", cfg.VAPIDKeyPath)
		return keys.GenerateKey(cfg.VAPIDKeyPath)
	}
	return keys.NewFileSigner(cfg.VAPIDKeyPath)
}

func newStorage(cfg config) (storage.Storage, error) {
	if cfg.RedisAddr != "" {
		return storage.NewRedis(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil
	}
	return storage.NewSQLite(cfg.DBPath)
}

// handleBroadcast delivers a notification payload to every registered
// device, pruning records whose endpoints the push service reports gone.
func handleBroadcast(store storage.Storage, pusher *delivery.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := clog.FromContext(ctx)

		var payload pushagent.NotificationPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		records, err := store.List(ctx, 1000, 0)
		if err != nil {
			log.Errorf("listing subscriptions: %v", err)
			http.Error(w, "failed to list subscriptions", http.StatusInternalServerError)
			return
		}

		var sent, failed, pruned int
		for _, record := range records {
			err := pusher.SendNotification(ctx, record.Subscription, &payload, &delivery.Options{
				TTL:     3600,
				Urgency: "normal",
			})
			if err == nil {
				sent++
				continue
			}
			failed++
			log.Warnf("sending to %s: %v", record.ID, err)
			if delivery.Gone(err) {
				if delErr := store.Delete(ctx, record.ID); delErr != nil {
					log.Errorf("pruning expired subscription %s: %v", record.ID, delErr)
				} else {
					pruned++
				}
			}
		}

		log.Infof("broadcast: %d sent, %d failed, %d pruned", sent, failed, pruned)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"sent":   sent,
			"failed": failed,
			"pruned": pruned,
		})
	}
}
