package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/unlock.lua
var unlockScript string

//go:embed scripts/extend.lua
var extendScript string

// ErrStoreUnavailable marks connection-level failures against the
// coordination store so callers never mistake an outage for contention.
var ErrStoreUnavailable = errors.New("coordination store unavailable")

type Client struct {
	rdb          *redis.Client
	unlockScript *redis.Script
	extendScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:          rdb,
		unlockScript: redis.NewScript(unlockScript),
		extendScript: redis.NewScript(extendScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetIfAbsent atomically sets key to value with a TTL if the key does not
// exist. Returns true when the key was set (the caller now owns it).
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, classify("setnx", err)
	}
	return ok, nil
}

// CompareAndDelete atomically deletes key only when its stored value
// matches value. Returns true when the key was deleted.
func (c *Client) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	result, err := c.unlockScript.Run(ctx, c.rdb, []string{key}, value).Result()
	if err != nil {
		return false, classify("unlock script", err)
	}
	deleted, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected unlock script result type %T", result)
	}
	return deleted == 1, nil
}

// CompareAndExtend atomically resets the TTL on key only when its stored
// value matches value. Returns true when the TTL was extended.
func (c *Client) CompareAndExtend(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	result, err := c.extendScript.Run(ctx, c.rdb, []string{key}, value, ttl.Milliseconds()).Result()
	if err != nil {
		return false, classify("extend script", err)
	}
	extended, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected extend script result type %T", result)
	}
	return extended == 1, nil
}

// Publish publishes a message on a channel
func (c *Client) Publish(ctx context.Context, channel, message string) error {
	if err := c.rdb.Publish(ctx, channel, message).Err(); err != nil {
		return classify("publish", err)
	}
	return nil
}

// Subscribe subscribes to a channel. The returned channel delivers
// message payloads until stop is called.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	pubsub := c.rdb.Subscribe(ctx, channel)

	// Receive forces the SUBSCRIBE round-trip so no notification
	// published after this call is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, classify("subscribe", err)
	}

	out := make(chan string, 1)
	done := make(chan struct{})
	go forward(pubsub.Channel(), out, done)

	var once sync.Once
	stop := func() error {
		once.Do(func() { close(done) })
		return pubsub.Close()
	}
	return out, stop, nil
}

// forward copies payloads to out until the subscription closes or stop
// runs. The send must stay interruptible: after stop nobody drains out,
// and a forwarder parked on a full buffer would never exit.
func forward(in <-chan *redis.Message, out chan string, done chan struct{}) {
	defer close(out)
	for msg := range in {
		select {
		case out <- msg.Payload:
		case <-done:
			return
		}
	}
}

// ScanKeys iterates the keyspace with cursor-based SCAN, never a blocking
// full KEYS sweep.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, classify("scan", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// DeleteByPattern scans for matching keys and deletes them.
// Returns the number of keys deleted.
func (c *Client) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, classify("del", err)
	}
	return len(keys), nil
}

// Get retrieves a cached value. Returns redis.Nil when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores a cached value with a TTL
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes cached keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// IsNotFound reports whether err is the cache-miss sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// classify maps transport-level failures to ErrStoreUnavailable so upstream
// code distinguishes "store down" from contention without matching strings.
func classify(op string, err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
