package dynamostate

import (
	"context"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// inmemDynamo is a minimal in-memory stand-in covering exactly the calls the
// store makes. pageSize > 0 forces Scan to paginate.
type inmemDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int

	scanCalls int
	putCalls  int
}

func newInmemDynamo(pageSize int) *inmemDynamo {
	return &inmemDynamo{
		items:    map[string]map[string]types.AttributeValue{},
		pageSize: pageSize,
	}
}

func (m *inmemDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++

	k := params.Item["track_number"].(*types.AttributeValueMemberS).Value
	m.items[k] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *inmemDynamo) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanCalls++

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		last := params.ExclusiveStartKey["track_number"].(*types.AttributeValueMemberS).Value
		for i, k := range keys {
			if k == last {
				start = i + 1
				break
			}
		}
	}

	end := len(keys)
	if m.pageSize > 0 && start+m.pageSize < end {
		end = start + m.pageSize
	}

	out := &dynamodb.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, m.items[k])
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"track_number": &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}
