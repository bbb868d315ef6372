package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the store.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBKVStore implements core.KVStore on a DynamoDB table with a string
// partition key "key" and a binary attribute "value".
type DynamoDBKVStore struct {
	client    DynamoDBAPI
	tableName string
	logger    zerolog.Logger
	now       func() time.Time
	closed    atomic.Bool
}

// NewDynamoDBKVStore loads AWS configuration, optionally overrides the
// credentials and endpoint, and verifies the table exists.
func NewDynamoDBKVStore(ctx context.Context, cfg DynamoDBConfig, logger zerolog.Logger) (*DynamoDBKVStore, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	var opts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	client := dynamodb.NewFromConfig(awsCfg, opts...)

	descCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := client.DescribeTable(descCtx, &dynamodb.DescribeTableInput{TableName: aws.String(cfg.TableName)}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", cfg.TableName, err)
	}

	return NewDynamoDBKVStoreFromClient(client, cfg.TableName, logger), nil
}

// NewDynamoDBKVStoreFromClient wraps an existing client.
func NewDynamoDBKVStoreFromClient(client DynamoDBAPI, tableName string, logger zerolog.Logger) *DynamoDBKVStore {
	return &DynamoDBKVStore{client: client, tableName: tableName, logger: logger, now: time.Now}
}

func (d *DynamoDBKVStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key": &types.AttributeValueMemberS{Value: key},
	}
}

func (d *DynamoDBKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		d.logger.Error().Err(err).Str("key", key).Msg("get failed")
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
	}

	// DynamoDB deletes expired items lazily, so honour the TTL on read.
	if ttlAttr, ok := out.Item["ttl"].(*types.AttributeValueMemberN); ok {
		if ttl, err := strconv.ParseInt(ttlAttr.Value, 10, 64); err == nil && d.now().Unix() > ttl {
			return nil, fmt.Errorf("%w: %s", core.ErrKeyNotFound, key)
		}
	}

	value, ok := out.Item["value"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("invalid value format for key %s", key)
	}

	d.logger.Debug().Str("key", key).Int("bytes", len(value.Value)).Msg("get")
	return value.Value, nil
}

func (d *DynamoDBKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if d.closed.Load() {
		return ErrClosed
	}

	now := d.now()
	item := d.itemKey(key)
	item["value"] = &types.AttributeValueMemberB{Value: value}
	item["created_at"] = &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)}
	if ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttl).Unix(), 10)}
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		d.logger.Error().Err(err).Str("key", key).Msg("set failed")
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	d.logger.Debug().Str("key", key).Int("bytes", len(value)).Dur("ttl", ttl).Msg("set")
	return nil
}

func (d *DynamoDBKVStore) Delete(ctx context.Context, key string) error {
	if d.closed.Load() {
		return ErrClosed
	}

	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.itemKey(key),
	}); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Close marks the store closed. The SDK client holds no connection to release.
func (d *DynamoDBKVStore) Close() error {
	d.closed.Store(true)
	return nil
}

// DynamoDBFactory creates DynamoDB-backed stores.
type DynamoDBFactory struct{}

func (f *DynamoDBFactory) Type() string { return "dynamodb" }

func (f *DynamoDBFactory) Validate(cfg Config) error {
	if cfg.DynamoDB.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if cfg.DynamoDB.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

func (f *DynamoDBFactory) Create(ctx context.Context, cfg Config, logger zerolog.Logger) (core.KVStore, error) {
	store, err := NewDynamoDBKVStore(ctx, cfg.DynamoDB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB KV store: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&DynamoDBFactory{})
}
