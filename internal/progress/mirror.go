package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/customer-sync/internal/service/importjob"
)

// DefaultMirrorTTL keeps stale entries from outliving a crashed run by long.
const DefaultMirrorTTL = 24 * time.Hour

// Mirror copies each checkpoint into Redis so dashboards and sibling
// processes can read live progress without querying Postgres. The mirror is
// advisory only; resume always reads the Postgres row.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMirror wraps the given client. A non-positive ttl falls back to
// DefaultMirrorTTL. Callers may hold a nil *Mirror when Redis is not
// configured; every method treats that as a no-op.
func NewMirror(client *redis.Client, ttl time.Duration) *Mirror {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &Mirror{client: client, ttl: ttl}
}

type mirrorPayload struct {
	BytesRead     int64     `json:"bytes_read"`
	RowsProcessed int64     `json:"rows_processed"`
	RowsInserted  int64     `json:"rows_inserted"`
	LastRowHash   string    `json:"last_row_hash,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func mirrorKey(jobID string) string {
	return fmt.Sprintf("import:progress:%s", jobID)
}

// Store writes the checkpoint under import:progress:<jobID> with the TTL.
func (m *Mirror) Store(ctx context.Context, jobID string, cp importjob.Checkpoint) error {
	if m == nil {
		return nil
	}
	payload := mirrorPayload{
		BytesRead:     cp.BytesRead,
		RowsProcessed: cp.RowsProcessed,
		RowsInserted:  cp.RowsInserted,
		LastRowHash:   cp.LastRowHash,
		UpdatedAt:     time.Now().UTC(),
	}
	key := mirrorKey(jobID)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", jobID, err)
	}
	if err := m.client.Set(ctx, key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// Load reads a mirrored checkpoint. Missing or expired keys return (nil, nil).
func (m *Mirror) Load(ctx context.Context, jobID string) (*importjob.Checkpoint, error) {
	if m == nil {
		return nil, nil
	}
	key := mirrorKey(jobID)
	data, err := m.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}

	var payload mirrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", key, err)
	}
	return &importjob.Checkpoint{
		BytesRead:     payload.BytesRead,
		RowsProcessed: payload.RowsProcessed,
		RowsInserted:  payload.RowsInserted,
		LastRowHash:   payload.LastRowHash,
	}, nil
}

// Clear drops the mirror entry once a job reaches a terminal state.
func (m *Mirror) Clear(ctx context.Context, jobID string) error {
	if m == nil {
		return nil
	}
	key := mirrorKey(jobID)
	if err := m.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}
