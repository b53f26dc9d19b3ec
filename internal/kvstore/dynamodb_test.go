package kvstore

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/modelstore/internal/core"
)

// fakeDynamoDB keeps items in a map and records batch sizes.
type fakeDynamoDB struct {
	items   map[string]map[string]types.AttributeValue
	batches []int
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(key map[string]types.AttributeValue) string {
	return key["key"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamoDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamoDB) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	k := keyOf(in.Key)
	item, ok := f.items[k]
	if !ok {
		item = map[string]types.AttributeValue{"key": in.Key["key"]}
		f.items[k] = item
	}
	var n int64
	if c, ok := item["counter"].(*types.AttributeValueMemberN); ok {
		n, _ = strconv.ParseInt(c.Value, 10, 64)
	}
	n++
	item["counter"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"counter": item["counter"]}}, nil
}

func (f *fakeDynamoDB) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	for _, reqs := range in.RequestItems {
		f.batches = append(f.batches, len(reqs))
		for _, r := range reqs {
			f.items[keyOf(r.PutRequest.Item)] = r.PutRequest.Item
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDynamoDB) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: aws.String("records")}}, nil
}

func TestDynamoDBKVStore(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamoDB()
	d := NewDynamoDBKVStore(fake, "records", nil)

	_, err := d.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, d.Set(ctx, "k", []byte("v"), 0))
	got, err := d.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	ok, err := d.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.Delete(ctx, "k"))
	ok, _ = d.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestDynamoDBKVStoreExpiredItemsAreMissing(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	d := NewDynamoDBKVStore(newFakeDynamoDB(), "records", nil)
	d.now = func() time.Time { return now }

	require.NoError(t, d.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)
	_, err := d.Get(ctx, "k")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
	ok, _ := d.Exists(ctx, "k")
	assert.False(t, ok)
}

func TestDynamoDBKVStoreBatchSetChunks(t *testing.T) {
	fake := newFakeDynamoDB()
	d := NewDynamoDBKVStore(fake, "records", nil)

	items := make(map[string][]byte, 60)
	for i := range 60 {
		items["k"+strconv.Itoa(i)] = []byte{byte(i)}
	}
	require.NoError(t, d.BatchSet(context.Background(), items, 0))
	assert.Equal(t, []int{25, 25, 10}, fake.batches)
	assert.Len(t, fake.items, 60)
}

func TestDynamoDBKVStoreIncr(t *testing.T) {
	ctx := context.Background()
	d := NewDynamoDBKVStore(newFakeDynamoDB(), "records", nil)

	for want := int64(1); want <= 3; want++ {
		n, err := d.Incr(ctx, "seq")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	got, err := d.Get(ctx, "seq")
	require.NoError(t, err)
	assert.Equal(t, "3", string(got))
}

func TestDynamoDBKVStoreClosed(t *testing.T) {
	d := NewDynamoDBKVStore(newFakeDynamoDB(), "records", nil)
	require.NoError(t, d.Close())
	_, err := d.Get(context.Background(), "k")
	assert.ErrorContains(t, err, "closed")
}
