package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const redisKeyPrefix = "ratelimit:"

// allowScript атомарно отрезает устаревшие метки, добавляет текущую и
// сверяет размер окна с ёмкостью после добавления. Отказ убирает свою же
// метку, чтобы отклонённые запросы не занимали слоты окна. Проверка и
// запись в одном скрипте: параллельные вызовы не могут пройти по одной
// и той же свободной ёмкости.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
if redis.call('ZCARD', KEYS[1]) > tonumber(ARGV[5]) then
	redis.call('ZREM', KEYS[1], ARGV[3])
	return 0
end
return 1
`)

// RedisLimiter — sliding-window лимитер на Redis sorted set. Состояние
// разделяется между инстансами, в отличие от MemoryLimiter.
type RedisLimiter struct {
	client   redis.Scripter
	window   time.Duration
	capacity int
	logger   *log.Entry
}

// NewRedisLimiter создаёт распределённый лимитер поверх Redis.
func NewRedisLimiter(client redis.Scripter, window time.Duration, capacity int, logger *log.Entry) *RedisLimiter {
	if logger == nil {
		logger = log.New().WithField("component", "ratelimit-redis")
	}
	if window <= 0 {
		window = defaultWindow
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &RedisLimiter{
		client:   client,
		window:   window,
		capacity: capacity,
		logger:   logger,
	}
}

// Allow считает запросы ключа в скользящем окне через ZSET. Отрезание
// старых меток, запись текущей и проверка ёмкости выполняются одним
// атомарным скриптом.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	redisKey := redisKeyPrefix + key
	cutoff := strconv.FormatInt(now.Add(-l.window).UnixNano(), 10)

	admitted, err := allowScript.Run(ctx, l.client,
		[]string{redisKey},
		cutoff,
		now.UnixNano(),
		uuid.NewString(),
		l.window.Milliseconds(),
		l.capacity,
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit script: %w", err)
	}
	return admitted == 1, nil
}

var _ domain.RateLimiter = (*RedisLimiter)(nil)
