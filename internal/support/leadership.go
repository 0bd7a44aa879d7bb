package support

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLeadershipTTL   = 45 * time.Second
	leadershipRetryDelay   = time.Second
	renewalTimeout         = 5 * time.Second
	minRenewalInterval     = time.Second
	defaultRenewalFraction = 3
)

var (
	errLockLost   = errors.New("leader lock lost")
	leaderCounter atomic.Uint64

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)
)

// RunWithLeader blocks until this process holds the lock at key, then calls
// run with a context that is cancelled when the lock is lost. When run
// returns the lock is released and the process competes again. The function
// only returns once ctx is done.
func RunWithLeader(ctx context.Context, client *redis.Client, key string, ttl time.Duration, run func(context.Context)) error {
	if run == nil {
		return errors.New("support: leader run function cannot be nil")
	}
	if client == nil {
		return errors.New("support: leader lock needs a redis client")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ttl <= 0 {
		ttl = DefaultLeadershipTTL
	}

	for {
		lock, err := acquireLeaderLock(ctx, client, key, ttl)
		if err != nil {
			return ctx.Err()
		}

		log.Debug("leader lock: acquired", "key", key)
		run(lock.ctx)
		lock.Close()
		log.Debug("leader lock: released", "key", key)

		if !sleepContext(ctx, leadershipRetryDelay) {
			return ctx.Err()
		}
	}
}

type leaderLock struct {
	client    *redis.Client
	key       string
	value     string
	ttl       time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	stopRenew chan struct{}
	closeOnce sync.Once
}

// acquireLeaderLock retries SETNX until it wins or ctx is done.
func acquireLeaderLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*leaderLock, error) {
	value := generateLeaderID()

	for {
		ok, err := client.SetNX(ctx, key, value, ttl).Result()
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			log.Warn("leader lock: setnx failed", "key", key, "error", err)
		case ok:
			lockCtx, cancel := context.WithCancel(ctx)
			lock := &leaderLock{
				client:    client,
				key:       key,
				value:     value,
				ttl:       ttl,
				ctx:       lockCtx,
				cancel:    cancel,
				stopRenew: make(chan struct{}),
			}
			go lock.renewLoop()
			return lock, nil
		}

		if !sleepContext(ctx, leadershipRetryDelay) {
			return nil, ctx.Err()
		}
	}
}

func (l *leaderLock) Close() {
	l.closeOnce.Do(func() {
		close(l.stopRenew)
		l.cancel()
		if err := l.release(); err != nil {
			log.Warn("leader lock: release failed", "key", l.key, "error", err)
		}
	})
}

func (l *leaderLock) renewLoop() {
	interval := max(l.ttl/defaultRenewalFraction, minRenewalInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopRenew:
			return
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.renew(); err != nil {
				log.Warn("leader lock: renewal failed", "key", l.key, "error", err)
				l.cancel()
				return
			}
		}
	}
}

func (l *leaderLock) renew() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.value, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return errLockLost
	}
	return nil
}

func (l *leaderLock) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), renewalTimeout)
	defer cancel()

	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func generateLeaderID() string {
	host, _ := os.Hostname()
	counter := leaderCounter.Add(1)
	return fmt.Sprintf("%s-%d-%d-%d", host, os.Getpid(), time.Now().UnixNano(), counter)
}
