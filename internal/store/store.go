package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type OpKind int

const (
	OpIncr OpKind = iota
	OpDecr
	OpSet
	OpExpire
	OpSAdd
	OpPushCapped
)

func (k OpKind) String() string {
	switch k {
	case OpIncr:
		return "incr"
	case OpDecr:
		return "decr"
	case OpSet:
		return "set"
	case OpExpire:
		return "expire"
	case OpSAdd:
		return "sadd"
	case OpPushCapped:
		return "push"
	}
	return "unknown"
}

// Op is one write inside a Batch. Which fields matter depends on Kind.
type Op struct {
	Kind    OpKind
	Key     string
	Value   string
	Members []string
	TTL     time.Duration // zero means no expiry
	Cap     int
}

// Batch collects writes that a Store applies as one atomic unit.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Incr(key string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpIncr, Key: key})
	return b
}

func (b *Batch) Decr(key string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDecr, Key: key})
	return b
}

func (b *Batch) Set(key, value string, ttl time.Duration) *Batch {
	b.ops = append(b.ops, Op{Kind: OpSet, Key: key, Value: value, TTL: ttl})
	return b
}

func (b *Batch) Expire(key string, ttl time.Duration) *Batch {
	b.ops = append(b.ops, Op{Kind: OpExpire, Key: key, TTL: ttl})
	return b
}

func (b *Batch) SAdd(set string, members ...string) *Batch {
	if len(members) == 0 {
		return b
	}
	b.ops = append(b.ops, Op{Kind: OpSAdd, Key: set, Members: members})
	return b
}

// PushCapped prepends value to the list at key and keeps only the newest n items.
func (b *Batch) PushCapped(key, value string, n int) *Batch {
	b.ops = append(b.ops, Op{Kind: OpPushCapped, Key: key, Value: value, Cap: n})
	return b
}

func (b *Batch) Ops() []Op {
	return b.ops
}

func (b *Batch) Len() int {
	return len(b.ops)
}

// Store is the key-value contract the vote engine runs against. Reads are
// single round trips; all writes for one decision go through Exec.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Counters(ctx context.Context, keys []string) ([]int64, error)
	IsMember(ctx context.Context, set, member string) (bool, error)
	Range(ctx context.Context, key string, n int) ([]string, error)
	Exec(ctx context.Context, b *Batch) error
	Ping(ctx context.Context) error
	Close() error
}
