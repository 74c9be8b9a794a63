package ddb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Invicton-Labs/go-dynamodb-concurrency/collections"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Standard key attribute names for composite-keyed tables.
const (
	PartitionKeyName = "PK"
	SortKeyName      = "SK"
)

// CompositeKey builds a (PK, SK) key for the standard composite layout.
func CompositeKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		PartitionKeyName: &types.AttributeValueMemberS{Value: pk},
		SortKeyName:      &types.AttributeValueMemberS{Value: sk},
	}
}

// KeyString renders a key in a stable human-readable form for error
// messages and log fields.
func KeyString(key map[string]types.AttributeValue) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := collections.TransformSlice(names, func(_ int, name string) string {
		var value string
		switch av := key[name].(type) {
		case *types.AttributeValueMemberS:
			value = av.Value
		case *types.AttributeValueMemberN:
			value = av.Value
		default:
			value = fmt.Sprintf("%v", av)
		}
		return name + "=" + value
	})
	return strings.Join(parts, ", ")
}

// ItemExistsCondition builds a condition expression asserting that every
// key attribute of the target item is present, together with the
// expression attribute names it references. An UpdateItem gated on this
// condition can never create the item. Key names are visited in sorted
// order so the produced expression is deterministic.
func ItemExistsCondition(key map[string]types.AttributeValue) (string, map[string]string) {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)

	exprNames := make(map[string]string, len(names))
	terms := make([]string, 0, len(names))
	for i, name := range names {
		alias := fmt.Sprintf("#key%d", i)
		exprNames[alias] = name
		terms = append(terms, "attribute_exists("+alias+")")
	}
	return strings.Join(terms, " AND "), exprNames
}
