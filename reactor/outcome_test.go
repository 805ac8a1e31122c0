package reactor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSubmissionOutcomeJSON(t *testing.T) {
	outcome := (&SubmissionOutcome{
		TargetBlock: 101,
		Trigger:     common.HexToHash("0x01"),
	}).fail(OutcomeNotIncluded, ErrBundleNotIncluded)

	data, err := json.Marshal(outcome)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "not_included", decoded["status"])
	require.Equal(t, ErrBundleNotIncluded.Error(), decoded["error"])
	require.Equal(t, float64(101), decoded["targetBlock"])
}

func TestRedisOutcomeBackend(t *testing.T) {
	red := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := red.Ping(ctx).Err(); err != nil {
		t.Skip("redis is not available:", err)
	}

	sub := red.Subscribe(ctx, "test-outcomes")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	backend := NewRedisOutcomeBackend(red, "test-outcomes")
	outcome := (&SubmissionOutcome{TargetBlock: 7, Relay: "flashbots"}).fail(OutcomeRelayError, errors.New("boom"))
	require.NoError(t, backend.NotifyOutcome(ctx, outcome))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var decoded SubmissionOutcome
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	require.Equal(t, uint64(7), decoded.TargetBlock)
	require.Equal(t, "flashbots", decoded.Relay)
	require.Equal(t, "boom", decoded.ErrMessage)
}
