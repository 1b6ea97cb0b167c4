// Package notify hands loan decisions to the notification dispatcher, which
// renders and sends the member emails outside this service.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"sacco/internal/domain/models"
	"sacco/internal/utils"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "sacco:loan-decisions"

// RedisNotifier publishes decisions on a Redis pub/sub channel.
type RedisNotifier struct {
	Client  redis.Cmdable
	Channel string
}

func (n RedisNotifier) NotifyLoanDecision(ctx context.Context, d models.LoanDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	channel := n.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	if err := n.Client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish decision: %w", err)
	}
	return nil
}

// LogNotifier only records the decision; used when no dispatcher is configured.
type LogNotifier struct{}

func (LogNotifier) NotifyLoanDecision(ctx context.Context, d models.LoanDecision) error {
	utils.LogEvent(utils.RequestIDFrom(ctx), "notify", "loan_decision", "dispatcher not configured, decision logged",
		zap.Int64("loan_id", d.LoanID), zap.String("status", string(d.Status)))
	return nil
}
