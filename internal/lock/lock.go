package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockUnavailable is returned when the lock is held by another owner
// and could not be acquired within the caller's wait budget. This is
// normal contention, distinct from coordination store outages which
// surface as redisclient.ErrStoreUnavailable.
var ErrLockUnavailable = errors.New("lock unavailable")

const (
	leaseKeyPrefix    = "lock:"
	releaseChanPrefix = "lockchan:"
)

// Store is the coordination store surface the lock service needs.
// *redisclient.Client satisfies it.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	CompareAndExtend(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// Options controls acquisition behavior.
type Options struct {
	// WaitTimeout bounds how long Acquire blocks on a contended lock.
	// Zero means fail-fast: return ErrLockUnavailable immediately.
	WaitTimeout time.Duration

	// AutoExtend renews the lease by its TTL at roughly TTL/2 intervals
	// while the lease is held, so long critical sections are not
	// preempted by expiry.
	AutoExtend bool
}

// Lease is an acquired lock. The token proves ownership: release and
// extension are compare-and-swap operations on it.
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration

	stopExtend context.CancelFunc
}

// Service implements distributed mutual exclusion over the coordination
// store: atomic set-if-absent acquisition, pub/sub release notification
// for blocking waiters, and token-checked release and extension.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new lock service
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Acquire attempts to take the lock for key with the given TTL.
//
// On contention it fails fast with ErrLockUnavailable unless
// opts.WaitTimeout is positive, in which case it subscribes to the key's
// release channel and retries the atomic acquire on each notification
// until the timeout elapses. There is no polling loop: a waiter only
// retries when woken or when its budget runs out.
func (s *Service) Acquire(ctx context.Context, key string, ttl time.Duration, opts Options) (*Lease, error) {
	token := uuid.New().String()
	start := time.Now()

	acquired, err := s.store.SetIfAbsent(ctx, leaseKeyPrefix+key, token, ttl)
	if err != nil {
		util.LockAcquisitionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if acquired {
		util.LockAcquisitionsTotal.WithLabelValues("acquired").Inc()
		util.LockWaitDuration.Observe(time.Since(start).Seconds())
		return s.newLease(key, token, ttl, opts), nil
	}

	if opts.WaitTimeout <= 0 {
		util.LockAcquisitionsTotal.WithLabelValues("contended").Inc()
		return nil, fmt.Errorf("%w: %s", ErrLockUnavailable, key)
	}

	lease, err := s.awaitLock(ctx, key, token, ttl, opts)
	if err != nil {
		// Store outages and subscribe failures are not contention.
		if errors.Is(err, ErrLockUnavailable) {
			util.LockAcquisitionsTotal.WithLabelValues("timeout").Inc()
		} else {
			util.LockAcquisitionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	util.LockAcquisitionsTotal.WithLabelValues("acquired").Inc()
	util.LockWaitDuration.Observe(time.Since(start).Seconds())
	return lease, nil
}

// awaitLock blocks on the key's release channel, retrying the atomic
// acquire once per notification.
func (s *Service) awaitLock(ctx context.Context, key, token string, ttl time.Duration, opts Options) (*Lease, error) {
	msgs, unsubscribe, err := s.store.Subscribe(ctx, releaseChanPrefix+key)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe from release channel",
				zap.String("key", key), zap.Error(err))
		}
	}()

	// The holder may have released between the failed acquire and the
	// subscription taking effect; retry once before blocking.
	acquired, err := s.store.SetIfAbsent(ctx, leaseKeyPrefix+key, token, ttl)
	if err != nil {
		return nil, err
	}
	if acquired {
		return s.newLease(key, token, ttl, opts), nil
	}

	timeout := time.NewTimer(opts.WaitTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, fmt.Errorf("%w: %s (waited %s)", ErrLockUnavailable, key, opts.WaitTimeout)
		case _, ok := <-msgs:
			if !ok {
				return nil, fmt.Errorf("%w: %s (release channel closed)", ErrLockUnavailable, key)
			}
			acquired, err := s.store.SetIfAbsent(ctx, leaseKeyPrefix+key, token, ttl)
			if err != nil {
				return nil, err
			}
			if acquired {
				return s.newLease(key, token, ttl, opts), nil
			}
			// Another waiter won the race; keep waiting for the next release.
		}
	}
}

// Release deletes the lease if the token still matches, then notifies
// waiters so they retry promptly. Returns false when the lease had
// already expired or been taken over by another token.
func (s *Service) Release(ctx context.Context, lease *Lease) (bool, error) {
	if lease.stopExtend != nil {
		lease.stopExtend()
	}

	released, err := s.store.CompareAndDelete(ctx, leaseKeyPrefix+lease.Key, lease.Token)
	if err != nil {
		return false, err
	}

	// Notify waiters even when the compare failed: the key is free
	// either way (expired, or the new holder will notify in turn).
	if err := s.store.Publish(ctx, releaseChanPrefix+lease.Key, "released"); err != nil {
		s.logger.Warn("Failed to publish lock release notification",
			zap.String("key", lease.Key), zap.Error(err))
	}

	return released, nil
}

// Extend renews the lease by ttl. Returns false when the lease no longer
// belongs to this token.
func (s *Service) Extend(ctx context.Context, lease *Lease, ttl time.Duration) (bool, error) {
	return s.store.CompareAndExtend(ctx, leaseKeyPrefix+lease.Key, lease.Token, ttl)
}

// WithLock acquires the lock, runs fn, and releases on every exit path
// including panics, so a lease is never leaked.
func (s *Service) WithLock(ctx context.Context, key string, ttl time.Duration, opts Options, fn func(ctx context.Context) error) error {
	lease, err := s.Acquire(ctx, key, ttl, opts)
	if err != nil {
		return err
	}

	defer func() {
		// Release with a fresh context so cancellation of the caller's
		// context cannot leak the lease until TTL expiry.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.Release(releaseCtx, lease); err != nil {
			s.logger.Error("Failed to release lock",
				zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(ctx)
}

func (s *Service) newLease(key, token string, ttl time.Duration, opts Options) *Lease {
	lease := &Lease{Key: key, Token: token, TTL: ttl}
	if opts.AutoExtend {
		extendCtx, cancel := context.WithCancel(context.Background())
		lease.stopExtend = cancel
		go s.autoExtend(extendCtx, lease)
	}
	return lease
}

// autoExtend renews the lease at TTL/2 intervals. On a failed or rejected
// extension it stops and the critical section continues without
// protection until it completes; callers size TTL so this window is not
// hit in practice.
func (s *Service) autoExtend(ctx context.Context, lease *Lease) {
	ticker := time.NewTicker(lease.TTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := s.Extend(ctx, lease, lease.TTL)
			if err != nil {
				util.LockExtensionFailures.Inc()
				s.logger.Warn("Lock extension failed, critical section continues unprotected",
					zap.String("key", lease.Key), zap.Error(err))
				return
			}
			if !extended {
				util.LockExtensionFailures.Inc()
				s.logger.Warn("Lock lease expired or stolen, stopping extension",
					zap.String("key", lease.Key))
				return
			}
		}
	}
}
