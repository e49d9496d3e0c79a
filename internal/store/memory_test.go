package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreIncrWindow(t *testing.T) {
	s := NewMemoryStore()

	for i := int64(1); i <= 3; i++ {
		n, err := s.IncrWindow(context.Background(), "rl:tenant:t1:r1:0", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	n, err := s.IncrWindow(context.Background(), "rl:tenant:t2:r1:0", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "keys are independent")
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1_700_000_000, 0)
	s.Now = func() time.Time { return now }

	_, err := s.IncrWindow(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	n, err := s.IncrWindow(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "expired counter restarts at zero")
}

func TestMemoryStoreQuota(t *testing.T) {
	s := NewMemoryStore()

	total, err := s.AddUsage(context.Background(), "q:t1:api_calls:2026-08", 5, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	total, err = s.AddUsage(context.Background(), "q:t1:api_calls:2026-08", 7, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)

	used, err := s.GetUsage(context.Background(), "q:t1:api_calls:2026-08")
	require.NoError(t, err)
	assert.Equal(t, int64(12), used)

	used, err = s.GetUsage(context.Background(), "q:absent:api_calls:2026-08")
	require.NoError(t, err)
	assert.Zero(t, used)
}
