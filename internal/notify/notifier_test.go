package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sacco/internal/domain/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierPublishesDecision(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := RedisNotifier{Client: client}
	err = n.NotifyLoanDecision(ctx, models.LoanDecision{
		LoanID:       12,
		ApplicantID:  1,
		Type:         models.LoanEmergency,
		Status:       models.LoanDisbursed,
		AmountIssued: decimal.NewFromInt(8000),
		DecidedAt:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		var got models.LoanDecision
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, int64(12), got.LoanID)
		assert.Equal(t, models.LoanDisbursed, got.Status)
		assert.True(t, got.AmountIssued.Equal(decimal.NewFromInt(8000)))
	case <-time.After(2 * time.Second):
		t.Fatal("decision not published")
	}
}

func TestRedisNotifierReportsPublishFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := RedisNotifier{Client: client, Channel: "x"}.NotifyLoanDecision(context.Background(), models.LoanDecision{LoanID: 1})
	assert.Error(t, err)
}
