// Package lock provides an advisory pessimistic lock over individual
// DynamoDB items. The lock is a reserved attribute stamped onto the
// target item with a conditional update; holding it gives the caller
// mutual exclusion over the item for the duration of a critical section.
// Callers never wait for a contended lock — acquisition fails fast.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/clock"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/conversions"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddb"
	"github.com/Invicton-Labs/go-dynamodb-concurrency/log"
	"github.com/Invicton-Labs/go-stackerr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/multierr"
)

// DefaultLockAttribute is the reserved attribute name used as the lock
// marker unless overridden with WithLockAttribute. Its presence on an
// item means the item is locked; its value is the acquisition timestamp.
const DefaultLockAttribute = "__LockedAt"

// AcquisitionError is returned when the lock cannot be acquired: either
// another holder has it (and it is not stale), or the item does not
// exist. Acquiring a lock never creates the item.
type AcquisitionError struct {
	Key map[string]types.AttributeValue
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("could not acquire lock on item (%s): item is locked or does not exist", ddb.KeyString(e.Key))
}

// ItemNotFoundError is returned when a release finds the item gone. The
// lock attribute cannot be removed from an item that no longer exists;
// the release is not retried.
type ItemNotFoundError struct {
	Key map[string]types.AttributeValue
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("could not release lock on item (%s): item not found", ddb.KeyString(e.Key))
}

// PessimisticLock scopes critical sections over DynamoDB items. It is
// stateless aside from its configuration and may be shared freely across
// goroutines.
type PessimisticLock struct {
	client        ddb.API
	tableName     string
	lockAttribute string
	lockTimeout   time.Duration
	clock         clock.Clock
	log           log.Logger
}

type Option func(*PessimisticLock)

// WithLockAttribute overrides the attribute name used as the lock marker.
func WithLockAttribute(name string) Option {
	return func(pl *PessimisticLock) {
		pl.lockAttribute = name
	}
}

// WithLockTimeout configures stale-lock expiry: an existing lock older
// than the timeout is treated as abandoned and may be overwritten by the
// next acquirer. Without a timeout, a lock left behind by a crashed
// holder blocks the item until removed out of band.
func WithLockTimeout(timeout time.Duration) Option {
	return func(pl *PessimisticLock) {
		pl.lockTimeout = timeout
	}
}

// WithClock overrides the wall-clock source, letting tests pin time.
func WithClock(c clock.Clock) Option {
	return func(pl *PessimisticLock) {
		pl.clock = c
	}
}

// WithLogger overrides the logger used for acquisition/release events.
func WithLogger(l log.Logger) Option {
	return func(pl *PessimisticLock) {
		pl.log = l
	}
}

// New creates a pessimistic lock over items in the given table.
func New(client ddb.API, tableName string, opts ...Option) *PessimisticLock {
	pl := &PessimisticLock{
		client:        client,
		tableName:     tableName,
		lockAttribute: DefaultLockAttribute,
		clock:         clock.System{},
		log:           log.Default(),
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// WithLock acquires the lock on the item at key, runs body, and releases
// the lock. The release runs on every exit path, including a panicking
// body, and is attempted exactly once. If the body returns an error, that
// error propagates; a release failure on that path is appended to it.
//
// The lock is not reentrant: a nested WithLock on the same key from the
// same caller fails with AcquisitionError, because the lock attribute is
// already present.
func (pl *PessimisticLock) WithLock(ctx context.Context, key map[string]types.AttributeValue, body func(ctx context.Context) error) (err error) {
	if err := pl.acquire(ctx, key); err != nil {
		return err
	}

	released := false
	defer func() {
		if r := recover(); r != nil {
			// The body panicked. Release the lock, then let the panic
			// continue unwinding.
			if !released {
				if releaseErr := pl.release(ctx, key); releaseErr != nil {
					pl.log.With(
						"lock_table", pl.tableName,
						"lock_key", ddb.KeyString(key),
					).WithError(releaseErr).Errorf("failed to release lock while unwinding panic")
				}
			}
			panic(r)
		}
	}()

	if bodyErr := body(ctx); bodyErr != nil {
		released = true
		return multierr.Append(bodyErr, pl.release(ctx, key))
	}
	released = true
	return pl.release(ctx, key)
}

// acquire stamps the lock attribute with the current timestamp, gated on
// the item existing and the lock attribute being absent (or stale, when a
// timeout is configured). The item-existence predicate stops DynamoDB's
// create-if-absent UpdateItem behavior from materializing the item.
func (pl *PessimisticLock) acquire(ctx context.Context, key map[string]types.AttributeValue) error {
	existsCondition, exprNames := ddb.ItemExistsCondition(key)
	exprNames["#lock"] = pl.lockAttribute

	now := pl.clock.Now()
	exprValues := map[string]types.AttributeValue{
		":lockedAt": &types.AttributeValueMemberS{Value: clock.Format(now)},
	}

	notAcquiredCondition := "attribute_not_exists(#lock)"
	if pl.lockTimeout > 0 {
		// A lock is stale iff the stale horizon is strictly past the
		// stored timestamp. At exact equality the lock is still valid.
		exprValues[":staleBefore"] = &types.AttributeValueMemberS{Value: clock.Format(now.Add(-pl.lockTimeout))}
		notAcquiredCondition = "(attribute_not_exists(#lock) OR :staleBefore > #lock)"
	}

	if _, err := pl.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &pl.tableName,
		Key:                       key,
		UpdateExpression:          conversions.GetPtr("SET #lock = :lockedAt"),
		ConditionExpression:       conversions.GetPtr(existsCondition + " AND " + notAcquiredCondition),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
		ReturnValues:              types.ReturnValueNone,
	}); err != nil {
		if ddb.IsConditionalCheckFailed(err) {
			pl.log.Debugw("lock acquisition failed, item is locked or missing",
				"lock_table", pl.tableName,
				"lock_key", ddb.KeyString(key),
			)
			return &AcquisitionError{Key: key}
		}
		return stackerr.Wrap(err)
	}

	pl.log.Debugw("lock acquired",
		"lock_table", pl.tableName,
		"lock_key", ddb.KeyString(key),
	)
	return nil
}

// release removes the lock attribute, gated only on the item still
// existing. A holder whose lock was discarded as stale may release a
// successor's lock here; that is the accepted anomaly of advisory
// timeout-based locks, and callers must not rely on the lock beyond the
// configured timeout.
func (pl *PessimisticLock) release(ctx context.Context, key map[string]types.AttributeValue) error {
	existsCondition, exprNames := ddb.ItemExistsCondition(key)
	exprNames["#lock"] = pl.lockAttribute

	if _, err := pl.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &pl.tableName,
		Key:                      key,
		UpdateExpression:         conversions.GetPtr("REMOVE #lock"),
		ConditionExpression:      &existsCondition,
		ExpressionAttributeNames: exprNames,
		ReturnValues:             types.ReturnValueNone,
	}); err != nil {
		if ddb.IsConditionalCheckFailed(err) {
			return &ItemNotFoundError{Key: key}
		}
		return stackerr.Wrap(err)
	}

	pl.log.Debugw("lock released",
		"lock_table", pl.tableName,
		"lock_key", ddb.KeyString(key),
	)
	return nil
}
