package warranty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"itam-api/internal/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the scan daily at 06:00 UTC
const DefaultSchedule = "0 6 * * *"

// ErrLocked is returned by a Locker when another replica holds the lock
var ErrLocked = errors.New("scan lock is held elsewhere")

// Locker provides single-flight across replicas. release must be safe to call
// after the lock expired.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLocker holds the scan lock as a Redis key set with NX and a TTL. The
// value is a random token so only the owner can delete it.
type RedisLocker struct {
	client *redis.Client
	key    string
}

// NewRedisLocker returns a locker on key. An empty key means "itam:lock:warranty-scan".
func NewRedisLocker(client *redis.Client, key string) *RedisLocker {
	if key == "" {
		key = "itam:lock:warranty-scan"
	}
	return &RedisLocker{client: client, key: key}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}, nil
}

// Scheduler runs Engine.Scan on a cron schedule in UTC
type Scheduler struct {
	engine  *Engine
	cron    *cron.Cron
	locker  Locker
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler registers the scan under spec. locker may be nil for a single
// replica. timeout bounds one run and the lock TTL.
func NewScheduler(engine *Engine, spec string, locker Locker, timeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &Scheduler{
		engine:  engine,
		cron:    cron.New(cron.WithLocation(time.UTC)),
		locker:  locker,
		timeout: timeout,
		log:     logger.OrNop(log).Named("warranty.scheduler"),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("warranty schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrLocked) {
		s.log.Error("scheduled warranty scan failed", zap.Error(err))
	}
}

// RunNow runs one scan unless one is already running in this process or, with
// a locker, in another replica. Both cases return ErrLocked.
func (s *Scheduler) RunNow(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrLocked
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, s.timeout)
		if err != nil {
			if errors.Is(err, ErrLocked) {
				s.log.Info("warranty scan skipped, lock held elsewhere")
			}
			return Result{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("release warranty scan lock", zap.Error(err))
			}
		}()
	}
	return s.engine.Scan(ctx)
}

// Start begins the schedule in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("warranty scan scheduled", zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts the schedule and waits for a running scan, or for ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
