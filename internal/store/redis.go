package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store against a Redis server. Exec wraps the batch in
// MULTI/EXEC so either every write lands or none does.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) Counters(ctx context.Context, keys []string) ([]int64, error) {
	out := make([]int64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.Get(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	for i, c := range cmds {
		v, err := c.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", keys[i], err)
		}
		out[i] = n
	}
	return out, nil
}

func (r *Redis) IsMember(ctx context.Context, set, member string) (bool, error) {
	return r.client.SIsMember(ctx, set, member).Result()
}

func (r *Redis) Range(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.client.LRange(ctx, key, 0, int64(n-1)).Result()
}

func (r *Redis) Exec(ctx context.Context, b *Batch) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, op := range b.Ops() {
			switch op.Kind {
			case OpIncr:
				p.Incr(ctx, op.Key)
			case OpDecr:
				p.Decr(ctx, op.Key)
			case OpSet:
				p.Set(ctx, op.Key, op.Value, op.TTL)
			case OpExpire:
				p.Expire(ctx, op.Key, op.TTL)
			case OpSAdd:
				members := make([]interface{}, len(op.Members))
				for i, m := range op.Members {
					members[i] = m
				}
				p.SAdd(ctx, op.Key, members...)
			case OpPushCapped:
				p.LPush(ctx, op.Key, op.Value)
				if op.Cap > 0 {
					p.LTrim(ctx, op.Key, 0, int64(op.Cap-1))
				}
			default:
				return fmt.Errorf("unsupported op %d", op.Kind)
			}
		}
		return nil
	})
	return err
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
