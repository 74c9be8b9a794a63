package lock

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/clock"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/conversions"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddb"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddbmem"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/log"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testTable = "payments"

func newTestStore() *ddbmem.Store {
	return ddbmem.NewStore(ddbmem.Table{
		Name:         testTable,
		PartitionKey: ddb.PartitionKeyName,
		SortKey:      ddb.SortKeyName,
	})
}

func seedItem(t *testing.T, store *ddbmem.Store, key map[string]types.AttributeValue) {
	t.Helper()
	item := map[string]types.AttributeValue{
		"Id": &types.AttributeValueMemberS{Value: "pi_1"},
	}
	for name, value := range key {
		item[name] = value
	}
	_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: conversions.GetPtr(testTable),
		Item:      item,
	})
	require.NoError(t, err)
}

func getItem(t *testing.T, store *ddbmem.Store, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	t.Helper()
	response, err := store.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName:      conversions.GetPtr(testTable),
		Key:            key,
		ConsistentRead: conversions.GetPtr(true),
	})
	require.NoError(t, err)
	return response.Item
}

func testKey() map[string]types.AttributeValue {
	return ddb.CompositeKey("PAYMENT_INTENT#pi_1", "PAYMENT_INTENT")
}

func TestWithLockRunsBodyAndReleases(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)
	pl := New(store, testTable)

	ran := false
	err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		// The lock attribute is present while the body runs.
		item := getItem(t, store, key)
		assert.Contains(t, item, DefaultLockAttribute)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	item := getItem(t, store, key)
	assert.NotContains(t, item, DefaultLockAttribute)
}

func TestWithLockIsNotReentrant(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)
	pl := New(store, testTable)

	err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		nested := pl.WithLock(ctx, key, func(ctx context.Context) error {
			t.Fatal("nested body must not run")
			return nil
		})
		var acquisitionErr *AcquisitionError
		assert.ErrorAs(t, nested, &acquisitionErr)
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockDoesNotCreateItem(t *testing.T) {
	store := newTestStore()
	key := testKey()
	pl := New(store, testTable)

	err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("body must not run when the item does not exist")
		return nil
	})
	var acquisitionErr *AcquisitionError
	require.ErrorAs(t, err, &acquisitionErr)

	assert.Nil(t, getItem(t, store, key))
}

func TestWithLockReleasesAfterBodyError(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)
	pl := New(store, testTable)

	bodyErr := fmt.Errorf("gateway exploded")
	err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		return bodyErr
	})
	require.ErrorIs(t, err, bodyErr)

	assert.NotContains(t, getItem(t, store, key), DefaultLockAttribute)

	// The key is lockable again.
	require.NoError(t, pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		return nil
	}))
}

func TestWithLockReleasesAfterPanic(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)
	pl := New(store, testTable)

	require.PanicsWithValue(t, "boom", func() {
		_ = pl.WithLock(context.Background(), key, func(ctx context.Context) error {
			panic("boom")
		})
	})

	assert.NotContains(t, getItem(t, store, key), DefaultLockAttribute)
}

func TestWithLockReleaseAgainstVanishedItem(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)
	pl := New(store, testTable)

	err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		_, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: conversions.GetPtr(testTable),
			Key:       key,
		})
		return err
	})
	var notFoundErr *ItemNotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestWithLockStaleLockBoundaryIsStrict(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)

	// A lock acquired at 09:00 and abandoned.
	acquiredAt := time.Date(2024, 1, 27, 9, 0, 0, 0, time.UTC)
	manual := clock.NewManual(acquiredAt)
	pl := New(store, testTable, WithLockTimeout(2*time.Hour), WithClock(manual))

	held := pl.acquire(context.Background(), key)
	require.NoError(t, held)

	// Exactly at the timeout boundary the lock is still valid.
	manual.Set(time.Date(2024, 1, 27, 11, 0, 0, 0, time.UTC))
	err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("body must not run at the boundary")
		return nil
	})
	var acquisitionErr *AcquisitionError
	require.ErrorAs(t, err, &acquisitionErr)

	// One second past the boundary the lock is stale and discarded.
	manual.Set(time.Date(2024, 1, 27, 11, 0, 1, 0, time.UTC))
	ran := false
	require.NoError(t, pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestWithLockWithoutTimeoutNeverDiscards(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)

	manual := clock.NewManual(time.Date(2024, 1, 27, 9, 0, 0, 0, time.UTC))
	pl := New(store, testTable, WithClock(manual))
	require.NoError(t, pl.acquire(context.Background(), key))

	// However much time passes, the lock holds without a timeout.
	manual.Advance(1000 * time.Hour)
	err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("body must not run")
		return nil
	})
	var acquisitionErr *AcquisitionError
	assert.ErrorAs(t, err, &acquisitionErr)
}

func TestWithLockMutualExclusionUnderContention(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)
	pl := New(store, testTable)

	var inside atomic.Int32
	var bodies atomic.Int32
	var losers atomic.Int32

	group := errgroup.Group{}
	for i := 0; i < 16; i++ {
		group.Go(func() error {
			err := pl.WithLock(context.Background(), key, func(ctx context.Context) error {
				if inside.Add(1) != 1 {
					return errors.New("two bodies inside the critical section")
				}
				bodies.Add(1)
				inside.Add(-1)
				return nil
			})
			if err != nil {
				var acquisitionErr *AcquisitionError
				if !errors.As(err, &acquisitionErr) {
					return err
				}
				losers.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	assert.Positive(t, bodies.Load())
	assert.Equal(t, int32(16), bodies.Load()+losers.Load())
	assert.NotContains(t, getItem(t, store, key), DefaultLockAttribute)
}

func TestWithLockCustomAttribute(t *testing.T) {
	store := newTestStore()
	key := testKey()
	seedItem(t, store, key)
	pl := New(store, testTable, WithLockAttribute("HeldSince"), WithLogger(log.Nop()))

	require.NoError(t, pl.WithLock(context.Background(), key, func(ctx context.Context) error {
		item := getItem(t, store, key)
		assert.Contains(t, item, "HeldSince")
		assert.NotContains(t, item, DefaultLockAttribute)
		return nil
	}))
	assert.NotContains(t, getItem(t, store, key), "HeldSince")
}
