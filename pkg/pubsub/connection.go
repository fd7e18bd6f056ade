package pubsub

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type ConnectionOptions struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
}

const maxDelay = 60 * time.Second

// DialWithRetry tries to connect to RabbitMQ with exponential backoff.
// It respects context cancellation for graceful shutdown.
func DialWithRetry(ctx context.Context, cfg ConnectionOptions) (*amqp091.Connection, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}

	var lastErr error
	for i := 1; i <= cfg.RetryAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			if i > 1 {
				logrus.Infof("[PUBSUB] Broker connected on attempt %d", i)
			}
			return conn, nil
		}
		lastErr = err

		// exponential backoff with cap
		sleep := cfg.Delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDelay {
			sleep = maxDelay
		}

		logrus.WithError(err).Warnf("[PUBSUB] Broker dial failed (attempt %d), retrying in %s", i, sleep)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w",
		cfg.RetryAttempts, lastErr)
}
