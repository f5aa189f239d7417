package auth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttemptStore_Increment(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryAttemptStore(AttemptWindow)
	store.NowFunc = func() time.Time { return now }

	for i := 1; i <= MaxAttemptsPerWindow+1; i++ {
		count, err := store.Increment(ctx, "83.12.53.65")
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	// a different address gets its own window
	count, err := store.Increment(ctx, "111.12.56.65")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// once the window passes, the record is replaced with a fresh one
	store.NowFunc = func() time.Time { return now.Add(AttemptWindow + time.Second) }
	count, err = store.Increment(ctx, "83.12.53.65")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMemoryAttemptStore_ScanAndClean(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewMemoryAttemptStore(AttemptWindow)
	store.NowFunc = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		_, err := store.Increment(ctx, fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
	}
	assert.Len(t, store.records, 10)

	// nothing expired yet
	store.ScanAndClean()
	assert.Len(t, store.records, 10)

	store.NowFunc = func() time.Time { return now.Add(AttemptWindow + time.Second) }
	store.ScanAndClean()
	assert.Empty(t, store.records)
}

func TestMemoryAttemptStore_StartSweeping(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Now()
	store := NewMemoryAttemptStore(AttemptWindow)
	store.NowFunc = func() time.Time { return now.Add(AttemptWindow + time.Second) }

	store.records["83.12.53.65"] = &attemptRecord{
		Count:   3,
		ResetAt: now.Unix() + int64(AttemptWindow.Seconds()),
	}

	recordCount := func() int {
		store.mutex.Lock()
		defer store.mutex.Unlock()
		return len(store.records)
	}

	store.StartSweeping(ctx, 5*time.Millisecond)

	// the sweeper drops the expired record on one of the first ticks,
	// and exits on ctx cancel (checked by the goleak TestMain)
	require.Eventually(t, func() bool {
		return recordCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCacheAttemptStore_Increment(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewCacheAttemptStore(AttemptWindow)
	store.NowFunc = func() time.Time { return now }

	for i := 1; i <= MaxAttemptsPerWindow+1; i++ {
		count, err := store.Increment(ctx, "83.12.53.65")
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	count, err := store.Increment(ctx, "111.12.56.65")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// a fresh window starts over, even when the cache entry still lingers
	store.NowFunc = func() time.Time { return now.Add(AttemptWindow + time.Second) }
	count, err = store.Increment(ctx, "83.12.53.65")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
