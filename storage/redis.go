package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements storage on a Redis server. Records are stored as JSON
// with secondary index keys for endpoint and user lookups and a timeline
// sorted set for pagination.
type Redis struct {
	client *redis.Client
}

const (
	redisRecordPrefix   = "pushagent:sub:"
	redisEndpointPrefix = "pushagent:endpoint:"
	redisUserPrefix     = "pushagent:user:"
	redisTimelineKey    = "pushagent:timeline"
)

// NewRedis creates Redis storage from client options.
func NewRedis(opts *redis.Options) *Redis {
	return &Redis{client: redis.NewClient(opts)}
}

// Save stores or updates a record.
func (r *Redis) Save(ctx context.Context, record *Record) error {
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	// Drop stale index entries when the record is re-pointed at a new
	// endpoint or user.
	if prev, err := r.Get(ctx, record.ID); err == nil {
		if prev.Subscription.Endpoint != record.Subscription.Endpoint {
			r.client.Del(ctx, redisEndpointPrefix+prev.Subscription.Endpoint)
		}
		if prev.UserID != "" && prev.UserID != record.UserID {
			r.client.SRem(ctx, redisUserPrefix+prev.UserID, record.ID)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisRecordPrefix+record.ID, data, 0)
	pipe.Set(ctx, redisEndpointPrefix+record.Subscription.Endpoint, record.ID, 0)
	if record.UserID != "" {
		pipe.SAdd(ctx, redisUserPrefix+record.UserID, record.ID)
	}
	pipe.ZAdd(ctx, redisTimelineKey, redis.Z{
		Score:  float64(record.CreatedAt.UnixNano()),
		Member: record.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving record: %w", err)
	}
	return nil
}

// Get retrieves a record by ID.
func (r *Redis) Get(ctx context.Context, id string) (*Record, error) {
	data, err := r.client.Get(ctx, redisRecordPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &record, nil
}

// GetByEndpoint retrieves a record by its push-service endpoint.
func (r *Redis) GetByEndpoint(ctx context.Context, endpoint string) (*Record, error) {
	id, err := r.client.Get(ctx, redisEndpointPrefix+endpoint).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving endpoint: %w", err)
	}
	return r.Get(ctx, id)
}

// GetByUserID retrieves all records for a user.
func (r *Redis) GetByUserID(ctx context.Context, userID string) ([]*Record, error) {
	ids, err := r.client.SMembers(ctx, redisUserPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("listing user records: %w", err)
	}
	var records []*Record
	for _, id := range ids {
		record, err := r.Get(ctx, id)
		if err == ErrNotFound {
			// Index entry outlived its record; self-heal.
			r.client.SRem(ctx, redisUserPrefix+userID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a record by ID.
func (r *Redis) Delete(ctx context.Context, id string) error {
	record, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, redisRecordPrefix+id)
	pipe.Del(ctx, redisEndpointPrefix+record.Subscription.Endpoint)
	if record.UserID != "" {
		pipe.SRem(ctx, redisUserPrefix+record.UserID, id)
	}
	pipe.ZRem(ctx, redisTimelineKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	return nil
}

// DeleteByEndpoint removes a record by its endpoint.
func (r *Redis) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	id, err := r.client.Get(ctx, redisEndpointPrefix+endpoint).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resolving endpoint: %w", err)
	}
	return r.Delete(ctx, id)
}

// DeleteByUserID removes all records for a user.
func (r *Redis) DeleteByUserID(ctx context.Context, userID string) (int, error) {
	ids, err := r.client.SMembers(ctx, redisUserPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("listing user records: %w", err)
	}
	var removed int
	for _, id := range ids {
		switch err := r.Delete(ctx, id); err {
		case nil:
			removed++
		case ErrNotFound:
			r.client.SRem(ctx, redisUserPrefix+userID, id)
		default:
			return removed, err
		}
	}
	return removed, nil
}

// List returns records with pagination, newest first.
func (r *Redis) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	ids, err := r.client.ZRevRange(ctx, redisTimelineKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing timeline: %w", err)
	}
	var records []*Record
	for _, id := range ids {
		record, err := r.Get(ctx, id)
		if err == ErrNotFound {
			r.client.ZRem(ctx, redisTimelineKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
