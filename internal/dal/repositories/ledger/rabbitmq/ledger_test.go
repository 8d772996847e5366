package rabbitmqledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiration(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Empty(t, expiration(context.Background(), now))

	ctx, cancel := context.WithDeadline(context.Background(), now.Add(10*time.Second))
	defer cancel()
	assert.Equal(t, "10000", expiration(ctx, now))
	assert.Equal(t, "1", expiration(ctx, now.Add(time.Minute)), "a passed deadline still expires the message")
}
