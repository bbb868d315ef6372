package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/storefwd/internal/core"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryKVStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, m.Set(ctx, "q", []byte("snapshot"), 0))
	got, err := m.Get(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), got)

	require.NoError(t, m.Set(ctx, "short", []byte("x"), time.Minute))
	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "short")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	m.FailSets(errors.New("quota"))
	assert.Error(t, m.Set(ctx, "q", []byte("y"), 0))
	assert.Equal(t, 3, m.SetCalls())

	require.NoError(t, m.Delete(ctx, "q"))
	_, err = m.Get(ctx, "q")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, m.Close())
	_, err = m.Get(ctx, "q")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFactoryRegistry(t *testing.T) {
	assert.Equal(t, []string{"dynamodb", "memory", "redis"}, RegisteredTypes())

	store, err := Create(context.Background(), Config{Type: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryKVStore{}, store)

	_, err = Create(context.Background(), Config{Type: "etcd"}, zerolog.Nop())
	assert.ErrorContains(t, err, "unsupported KV store type")

	_, err = Create(context.Background(), Config{}, zerolog.Nop())
	assert.ErrorContains(t, err, "type is required")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	cfg.Type = "redis"
	require.NoError(t, Validate(cfg))
	cfg.Redis.DB = 16
	assert.Error(t, Validate(cfg))

	cfg = Config{Type: "dynamodb"}
	assert.ErrorContains(t, Validate(cfg), "region")
	cfg.DynamoDB = DynamoDBConfig{Region: "eu-west-1", TableName: "storefwd"}
	assert.NoError(t, Validate(cfg))
}

func TestRedisStoreRejectsUseAfterClose(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	s := NewRedisKVStoreFromClient(client, zerolog.Nop())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(context.Background(), "k", nil, 0), ErrClosed)
	assert.ErrorIs(t, s.Delete(context.Background(), "k"), ErrClosed)
}

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(k map[string]types.AttributeValue) string {
	return k["key"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoDBStore(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoDBKVStoreFromClient(fake, "storefwd", zerolog.Nop())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Get(ctx, "q")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "q", []byte(`[]`), time.Hour))
	got, err := s.Get(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), got)

	now = now.Add(2 * time.Hour)
	_, err = s.Get(ctx, "q")
	assert.ErrorIs(t, err, core.ErrKeyNotFound)

	require.NoError(t, s.Delete(ctx, "q"))
	assert.Empty(t, fake.items)

	fake.err = errors.New("throttled")
	assert.ErrorContains(t, s.Set(ctx, "q", []byte("x"), 0), "throttled")

	require.NoError(t, s.Close())
	_, err = s.Get(ctx, "q")
	assert.ErrorIs(t, err, ErrClosed)
}
