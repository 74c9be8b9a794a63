// Package events defines the canonical stored form of a domain event. An
// envelope is written as a sibling item of its aggregate, in the same
// partition, so that the aggregate update and the event inserts share one
// transaction scope. Envelopes are write-only from the aggregate side;
// downstream pollers read them back.
package events

import (
	"github.com/Invicton-Labs/go-dynamodb-concurrency/ddb"
	"github.com/Invicton-Labs/go-stackerr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SortKeyPrefix prefixes the sort key of every stored envelope.
const SortKeyPrefix = "EVENT#"

// Envelope is the stored representation of a domain event. The payload is
// an opaque serialized form of the event's semantic fields; the envelope
// does not interpret it.
type Envelope struct {
	ID            string `dynamodbav:"Id"`
	Name          string `dynamodbav:"Name"`
	AggregateID   string `dynamodbav:"AggregateId"`
	AggregateName string `dynamodbav:"AggregateName"`
	Payload       string `dynamodbav:"Payload"`
}

// New lifts a domain event into its stored envelope. The event id must be
// the globally-unique identifier generated when the domain event was
// created; the envelope carries it through unchanged.
func New(id, name, aggregateID, aggregateName string, payload []byte) Envelope {
	return Envelope{
		ID:            id,
		Name:          name,
		AggregateID:   aggregateID,
		AggregateName: aggregateName,
		Payload:       string(payload),
	}
}

// Key returns the composite key of the envelope under the partition of
// the aggregate identified by partitionKey.
func (e Envelope) Key(partitionKey string) map[string]types.AttributeValue {
	return ddb.CompositeKey(partitionKey, SortKeyPrefix+e.ID)
}

// Item renders the envelope as a full DynamoDB item under the partition
// of its aggregate.
func (e Envelope) Item(partitionKey string) (map[string]types.AttributeValue, stackerr.Error) {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}
	item[ddb.PartitionKeyName] = &types.AttributeValueMemberS{Value: partitionKey}
	item[ddb.SortKeyName] = &types.AttributeValueMemberS{Value: SortKeyPrefix + e.ID}
	return item, nil
}

// FromItem reconstructs an envelope from a stored item. Only pollers and
// tests need this direction; the aggregate side never reads events back.
func FromItem(item map[string]types.AttributeValue) (Envelope, stackerr.Error) {
	var e Envelope
	if err := attributevalue.UnmarshalMap(item, &e); err != nil {
		return Envelope{}, stackerr.Wrap(err)
	}
	return e, nil
}
