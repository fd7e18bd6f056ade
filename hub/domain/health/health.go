package health

import (
	"context"
	"time"
)

// Status is the derived health of a channel connection.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusOffline  Status = "offline"
)

// MaxConsecutiveErrors is the threshold between warning and critical:
// the state is warning at 1-2 consecutive failures and critical at >= 3.
const MaxConsecutiveErrors = 3

// Record is the per-channel health snapshot recomputed every check tick.
// It is derived state, not a primary persisted record.
type Record struct {
	ChannelID         string    `json:"channel_id"`
	Status            Status    `json:"status"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	// AvgResponseMs is an exponential moving average of probe latency,
	// used for reporting only.
	AvgResponseMs float64   `json:"avg_response_ms"`
	Since         time.Time `json:"since"`
}

// Store keeps health records. Implementations must be safe for
// concurrent use from probe goroutines and the REST layer.
type Store interface {
	Get(ctx context.Context, channelID string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, channelID string) error
	List(ctx context.Context) ([]Record, error)
}
