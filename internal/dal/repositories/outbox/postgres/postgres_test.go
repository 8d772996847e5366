package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDueQuery_WaitsForEarlierVersionsOfTheOrder(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	query, args, err := dueQuery(now, 100).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "next_retry_at <= $1")
	assert.Contains(t, query, "NOT EXISTS (")
	assert.Contains(t, query, "earlier.version < outbox.version")
	assert.Contains(t, query, "earlier.next_retry_at > $2")
	assert.Contains(t, query, "ORDER BY order_id ASC, version ASC")
	assert.Equal(t, []any{now, now}, args)
}
