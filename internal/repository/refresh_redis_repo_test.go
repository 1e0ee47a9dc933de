package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"schooldesk/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLedger(t *testing.T) *RedisRefreshLedger {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisRefreshLedger(rdb)
}

func TestRedisLedger_CreateAndGetByHash(t *testing.T) {
	ledger := newRedisLedger(t)
	ctx := context.Background()

	rec := newTestRecord(7, "rhash-1", "rfam-1")
	require.NoError(t, ledger.Create(ctx, rec))
	require.NotZero(t, rec.ID)

	got, err := ledger.GetByHash(ctx, "rhash-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, "rfam-1", got.FamilyID)
	assert.False(t, got.IsConsumed())
	assert.False(t, got.IsRevoked())

	_, err = ledger.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRedisLedger_ConsumeOnce(t *testing.T) {
	ledger := newRedisLedger(t)
	ctx := context.Background()

	rec := newTestRecord(1, "rhash-2", "rfam-2")
	require.NoError(t, ledger.Create(ctx, rec))

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	wins := make(chan bool, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ok, err := ledger.ConsumeIfUnused(ctx, rec.ID, time.Now())
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for ok := range wins {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	got, err := ledger.GetByHash(ctx, "rhash-2")
	require.NoError(t, err)
	assert.True(t, got.IsConsumed())
}

func TestRedisLedger_RevokeFamily(t *testing.T) {
	ledger := newRedisLedger(t)
	ctx := context.Background()
	now := time.Now()

	a := newTestRecord(1, "rhash-a", "rfam-x")
	b := newTestRecord(1, "rhash-b", "rfam-x")
	other := newTestRecord(2, "rhash-c", "rfam-y")
	for _, rec := range []*domain.RefreshRecord{a, b, other} {
		require.NoError(t, ledger.Create(ctx, rec))
	}

	require.NoError(t, ledger.RevokeFamily(ctx, "rfam-x", "reuse_detected", now))

	for _, hash := range []string{"rhash-a", "rhash-b"} {
		got, err := ledger.GetByHash(ctx, hash)
		require.NoError(t, err)
		assert.True(t, got.IsRevoked())
		assert.Equal(t, "reuse_detected", got.RevokedReason)
	}

	got, err := ledger.GetByHash(ctx, "rhash-c")
	require.NoError(t, err)
	assert.False(t, got.IsRevoked())

	ok, err := ledger.ConsumeIfUnused(ctx, a.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "revoked records cannot be consumed")
}

func TestRedisLedger_LinkRotation(t *testing.T) {
	ledger := newRedisLedger(t)
	ctx := context.Background()

	oldRec := newTestRecord(1, "rhash-old", "rfam-l")
	newRec := newTestRecord(1, "rhash-new", "rfam-l")
	require.NoError(t, ledger.Create(ctx, oldRec))
	require.NoError(t, ledger.Create(ctx, newRec))

	require.NoError(t, ledger.LinkRotation(ctx, oldRec.ID, newRec.ID))

	got, err := ledger.GetByHash(ctx, "rhash-old")
	require.NoError(t, err)
	require.NotNil(t, got.RotatedTo)
	assert.Equal(t, newRec.ID, *got.RotatedTo)
}

func TestRedisLedger_RevokeByUser(t *testing.T) {
	ledger := newRedisLedger(t)
	ctx := context.Background()
	now := time.Now()

	mine := newTestRecord(5, "rhash-mine", "rfam-m")
	theirs := newTestRecord(6, "rhash-theirs", "rfam-t")
	require.NoError(t, ledger.Create(ctx, mine))
	require.NoError(t, ledger.Create(ctx, theirs))

	require.NoError(t, ledger.RevokeByUser(ctx, 5, "admin_revoked", now))

	got, err := ledger.GetByHash(ctx, "rhash-mine")
	require.NoError(t, err)
	assert.True(t, got.IsRevoked())

	got, err = ledger.GetByHash(ctx, "rhash-theirs")
	require.NoError(t, err)
	assert.False(t, got.IsRevoked())
}
