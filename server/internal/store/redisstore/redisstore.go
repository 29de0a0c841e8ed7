// Package redisstore is a store.Backend on a Redis server.
//
// Layout, with the default "items" prefix:
//
//	items:order   LIST  record ids, newest at index 0
//	items:data    HASH  id -> JSON record
//	items:ledger  LIST  JSON ledger entries, oldest first
//
// Every write that touches both the order list and the data hash runs in a
// single MULTI/EXEC, so other clients of the same server never see an id in
// one key and not the other.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/queuefeed/queuefeed/pkg/types"
	"github.com/queuefeed/queuefeed/server/internal/store"
)

// DefaultPrefix is the key prefix used by New.
const DefaultPrefix = "items"

var _ store.Backend = (*Backend)(nil)

// Backend is the Redis-backed event store backend.
type Backend struct {
	client    *redis.Client
	orderKey  string
	dataKey   string
	ledgerKey string
}

// New parses a redis:// URL, connects, and verifies the connection with PING.
func New(ctx context.Context, url string) (*Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewFromClient(client, DefaultPrefix), nil
}

// NewFromClient wraps an existing client. Keys are built from prefix.
func NewFromClient(client *redis.Client, prefix string) *Backend {
	return &Backend{
		client:    client,
		orderKey:  prefix + ":order",
		dataKey:   prefix + ":data",
		ledgerKey: prefix + ":ledger",
	}
}

// Ping checks server connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Backend) Push(ctx context.Context, rec types.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, b.orderKey, 0, rec.ID)
		p.LPush(ctx, b.orderKey, rec.ID)
		p.HSet(ctx, b.dataKey, rec.ID, body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push record: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context) ([]types.Record, error) {
	ids, err := b.client.LRange(ctx, b.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read order: %w", err)
	}
	out := make([]types.Record, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	vals, err := b.client.HMGet(ctx, b.dataKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			// Absent field: another client trimmed between the two reads.
			continue
		}
		rec, err := decode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (b *Backend) Get(ctx context.Context, id string) (types.Record, error) {
	s, err := b.client.HGet(ctx, b.dataKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return types.Record{}, store.ErrNotFound
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("get record: %w", err)
	}
	return decode(s)
}

// Set overwrites an existing record. The existence check and the write run
// under WATCH so a concurrent trim by another client aborts the write
// instead of resurrecting the id in the hash only.
func (b *Backend) Set(ctx context.Context, rec types.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = b.client.Watch(ctx, func(tx *redis.Tx) error {
		ok, err := tx.HExists(ctx, b.dataKey, rec.ID).Result()
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, b.dataKey, rec.ID, body)
			return nil
		})
		return err
	}, b.dataKey)
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

func (b *Backend) Oldest(ctx context.Context) (types.Record, error) {
	id, err := b.client.LIndex(ctx, b.orderKey, -1).Result()
	if errors.Is(err, redis.Nil) {
		return types.Record{}, store.ErrNotFound
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("read oldest id: %w", err)
	}
	return b.Get(ctx, id)
}

func (b *Backend) TrimOldest(ctx context.Context, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	ids, err := b.client.LRange(ctx, b.orderKey, int64(-n), -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read trim range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	_, err = b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, b.dataKey, ids...)
		p.LTrim(ctx, b.orderKey, 0, int64(-len(ids)-1))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trim records: %w", err)
	}
	return len(ids), nil
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.client.Del(ctx, b.orderKey, b.dataKey).Err(); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

func (b *Backend) Len(ctx context.Context) (int, error) {
	n, err := b.client.LLen(ctx, b.orderKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return int(n), nil
}

// Append pushes one ledger entry onto the ledger list.
func (b *Backend) Append(ctx context.Context, e types.LedgerEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	if err := b.client.RPush(ctx, b.ledgerKey, body).Err(); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

// Close closes the client connection pool.
func (b *Backend) Close() error {
	return b.client.Close()
}

func decode(s string) (types.Record, error) {
	var rec types.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return types.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
