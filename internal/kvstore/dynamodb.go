package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rzpsarthak13/modelstore/internal/core"
	"github.com/rzpsarthak13/modelstore/internal/registry"
)

// maxBatchSize is the BatchWriteItem request limit.
const maxBatchSize = 25

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBKVStore implements core.KVStore on a DynamoDB table keyed by the
// string attribute "key". Values live in the binary attribute "value",
// counters in the numeric attribute "counter".
type DynamoDBKVStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *slog.Logger
	now       func() time.Time
	closed    bool
}

var (
	_ core.KVStore = (*DynamoDBKVStore)(nil)
	_ core.Counter = (*DynamoDBKVStore)(nil)
)

// NewDynamoDBKVStore wraps an existing client.
func NewDynamoDBKVStore(client DynamoDBAPI, tableName string, logger *slog.Logger) *DynamoDBKVStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &DynamoDBKVStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

// DialDynamoDB loads AWS configuration, builds a client and checks the table exists.
func DialDynamoDB(ctx context.Context, kv registry.KVConfig, logger *slog.Logger) (*DynamoDBKVStore, error) {
	dc := kv.DynamoDB
	if dc.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if dc.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(dc.Region)}
	if kv.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(kv.MaxRetries+1))
	}
	if dc.AccessKeyID != "" && dc.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(dc.AccessKeyID, dc.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOptions []func(*dynamodb.Options)
	if dc.Endpoint != "" {
		// Custom endpoint (e.g., for LocalStack)
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(dc.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(cfg, clientOptions...)

	describeCtx, cancel := context.WithTimeout(ctx, kv.DialTimeout)
	defer cancel()
	if _, err := client.DescribeTable(describeCtx, &dynamodb.DescribeTableInput{TableName: aws.String(dc.TableName)}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", dc.TableName, err)
	}
	return NewDynamoDBKVStore(client, dc.TableName, logger), nil
}

func (d *DynamoDBKVStore) check() error {
	if d.closed {
		return fmt.Errorf("KV store is closed")
	}
	return nil
}

func (d *DynamoDBKVStore) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"key": &types.AttributeValueMemberS{Value: key}}
}

// expired reports whether the item carries a TTL in the past. DynamoDB
// deletes expired items lazily, so reads filter them.
func (d *DynamoDBKVStore) expired(item map[string]types.AttributeValue) bool {
	attr, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(attr.Value, 10, 64)
	return err == nil && d.now().Unix() > ttl
}

func (d *DynamoDBKVStore) item(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	item := d.keyAttr(key)
	item["value"] = &types.AttributeValueMemberB{Value: value}
	item["created_at"] = &types.AttributeValueMemberS{Value: d.now().UTC().Format(time.RFC3339)}
	if ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(d.now().Add(ttl).Unix(), 10)}
	}
	return item
}

// Get retrieves a value by key from the store.
func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		d.logger.Error("dynamodb get failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if result.Item == nil || d.expired(result.Item) {
		return nil, keyNotFound(key)
	}
	value, ok := result.Item["value"].(*types.AttributeValueMemberB)
	if !ok {
		if counter, ok := result.Item["counter"].(*types.AttributeValueMemberN); ok {
			return []byte(counter.Value), nil
		}
		return nil, fmt.Errorf("invalid value format for key %s", key)
	}
	d.logger.Debug("dynamodb get", "key", key, "bytes", len(value.Value))
	return value.Value, nil
}

// Set stores a key-value pair with an optional TTL.
func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := d.check(); err != nil {
		return err
	}
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      d.item(key, value, ttl),
	})
	if err != nil {
		d.logger.Error("dynamodb put failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	d.logger.Debug("dynamodb put", "key", key, "bytes", len(value), "ttl", ttl)
	return nil
}

// Delete removes a key from the store.
func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) error {
	if err := d.check(); err != nil {
		return err
	}
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists in the store.
func (d *DynamoDBKVStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := d.check(); err != nil {
		return false, err
	}
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.tableName),
		Key:                      d.keyAttr(key),
		ProjectionExpression:     aws.String("#k, #t"),
		ExpressionAttributeNames: map[string]string{"#k": "key", "#t": "ttl"},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check existence of key %s: %w", key, err)
	}
	return result.Item != nil && !d.expired(result.Item), nil
}

// BatchSet stores multiple key-value pairs with a shared TTL, in requests
// of at most 25 items. Items DynamoDB leaves unprocessed are resubmitted.
func (d *DynamoDBKVStore) BatchSet(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if err := d.check(); err != nil {
		return err
	}
	requests := make([]types.WriteRequest, 0, len(items))
	for key, value := range items {
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: d.item(key, value, ttl)}})
	}
	for start := 0; start < len(requests); start += maxBatchSize {
		end := min(start+maxBatchSize, len(requests))
		pending := map[string][]types.WriteRequest{d.tableName: requests[start:end]}
		for len(pending[d.tableName]) > 0 {
			out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("failed to batch set keys: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// Incr implements core.Counter with an atomic ADD on the counter attribute.
func (d *DynamoDBKVStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       d.keyAttr(key),
		UpdateExpression:          aws.String("ADD #c :one"),
		ExpressionAttributeNames:  map[string]string{"#c": "counter"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}
	attr, ok := out.Attributes["counter"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("increment of key %s returned no counter", key)
	}
	return strconv.ParseInt(attr.Value, 10, 64)
}

// Close marks the store closed. The DynamoDB client holds no connections.
func (d *DynamoDBKVStore) Close() error {
	d.closed = true
	return nil
}

// DynamoDBFactory implements Factory for DynamoDB.
type DynamoDBFactory struct{}

// Type returns the type identifier for this factory.
func (DynamoDBFactory) Type() string { return "dynamodb" }

// Validate validates the DynamoDB-specific configuration.
func (DynamoDBFactory) Validate(config registry.KVConfig) error {
	if config.DynamoDB.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.DynamoDB.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	if (config.DynamoDB.AccessKeyID == "") != (config.DynamoDB.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return validateTimeouts(config)
}

// Create connects to DynamoDB.
func (DynamoDBFactory) Create(ctx context.Context, config registry.KVConfig, logger *slog.Logger) (core.KVStore, error) {
	store, err := DialDynamoDB(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(DynamoDBFactory{})
}
