package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stock-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Channel carries invalidation messages between instances.
const Channel = "cache:invalidate"

// Store is the cache store surface the invalidator needs.
// *redisclient.Client satisfies it.
type Store interface {
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// Message is the invalidation broadcast. Instances ignore messages they
// authored: the local eviction already happened before publishing.
type Message struct {
	Pattern   string    `json:"pattern"`
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"source_id"`
}

// Invalidator evicts matching cache keys locally and broadcasts the
// pattern so peer instances converge on the same eviction.
type Invalidator struct {
	store    Store
	sourceID string
	logger   *zap.Logger
}

// NewInvalidator creates an invalidator with a unique per-process source ID.
func NewInvalidator(store Store) *Invalidator {
	return &Invalidator{
		store:    store,
		sourceID: uuid.New().String(),
		logger:   util.NamedLogger("cache"),
	}
}

// SourceID returns this instance's broadcast identity.
func (i *Invalidator) SourceID() string {
	return i.sourceID
}

// Invalidate deletes keys matching pattern from the shared cache view,
// then publishes the pattern so peers evict their views too.
func (i *Invalidator) Invalidate(ctx context.Context, pattern string) error {
	deleted, err := i.store.DeleteByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("local cache eviction failed: %w", err)
	}
	util.CacheInvalidationsTotal.WithLabelValues("local").Inc()

	msg := Message{
		Pattern:   pattern,
		Timestamp: time.Now(),
		SourceID:  i.sourceID,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation message: %w", err)
	}

	if err := i.store.Publish(ctx, Channel, string(payload)); err != nil {
		return fmt.Errorf("failed to broadcast invalidation: %w", err)
	}

	i.logger.Debug("Cache invalidated",
		zap.String("pattern", pattern),
		zap.Int("deleted", deleted))
	return nil
}

// Listen subscribes to the invalidation channel and applies peer
// evictions until ctx is cancelled. Call it once at startup.
func (i *Invalidator) Listen(ctx context.Context) error {
	msgs, unsubscribe, err := i.store.Subscribe(ctx, Channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to invalidation channel: %w", err)
	}
	defer func() {
		_ = unsubscribe()
	}()

	i.logger.Info("Cache invalidation listener started", zap.String("source_id", i.sourceID))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return fmt.Errorf("invalidation channel closed")
			}
			i.handle(ctx, payload)
		}
	}
}

func (i *Invalidator) handle(ctx context.Context, payload string) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		i.logger.Warn("Dropping malformed invalidation message", zap.Error(err))
		return
	}

	if msg.SourceID == i.sourceID {
		return
	}

	deleted, err := i.store.DeleteByPattern(ctx, msg.Pattern)
	if err != nil {
		i.logger.Error("Peer cache eviction failed",
			zap.String("pattern", msg.Pattern), zap.Error(err))
		return
	}

	util.CacheInvalidationsTotal.WithLabelValues("peer").Inc()
	i.logger.Debug("Applied peer invalidation",
		zap.String("pattern", msg.Pattern),
		zap.String("source_id", msg.SourceID),
		zap.Int("deleted", deleted))
}
