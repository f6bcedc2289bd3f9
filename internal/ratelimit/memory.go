package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultWindow   = time.Minute
	defaultCapacity = 60
	defaultMaxKeys  = 100000
	shardCount      = 32

	evictInterval = time.Minute
)

// MemoryLimiter — шардированный sliding-window лимитер по ключу вызывающего.
// Память ограничена maxKeys, протухшие ключи вычищаются фоновым циклом,
// глобального растущего словаря нет.
type MemoryLimiter struct {
	shards   [shardCount]*shard
	window   time.Duration
	capacity int
	maxKeys  int
	logger   *log.Entry
	now      func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*window
}

// window хранит метки запросов ключа внутри скользящего окна.
type window struct {
	hits []time.Time
}

// MemoryOption настраивает MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithWindow задаёт длительность окна.
func WithWindow(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithCapacity задаёт число запросов, допустимых в окне.
func WithCapacity(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithMaxKeys задаёт верхнюю границу отслеживаемых ключей.
func WithMaxKeys(n int) MemoryOption {
	return func(l *MemoryLimiter) {
		if n > 0 {
			l.maxKeys = n
		}
	}
}

// WithClock задаёт источник времени (для тестов).
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryLimiter создаёт in-process лимитер.
func NewMemoryLimiter(logger *log.Entry, options ...MemoryOption) *MemoryLimiter {
	if logger == nil {
		logger = log.New().WithField("component", "ratelimit")
	}
	l := &MemoryLimiter{
		window:   defaultWindow,
		capacity: defaultCapacity,
		maxKeys:  defaultMaxKeys,
		logger:   logger,
		now:      time.Now,
	}
	for _, option := range options {
		option(l)
	}
	for i := range l.shards {
		l.shards[i] = &shard{entries: make(map[string]*window)}
	}
	return l
}

// Allow отвечает, пропускать ли запрос по ключу. Запросы сверх ёмкости
// отклоняются сразу, без очереди.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.window)
	sh := l.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	entry, ok := sh.entries[key]
	if !ok {
		if l.keyBudgetExceeded(sh) {
			// Под давлением новых ключей лимитер пропускает запрос вместо
			// того, чтобы стать вектором отказа в обслуживании.
			l.logger.Warn("rate limiter key budget exceeded, admitting request")
			return true, nil
		}
		entry = &window{}
		sh.entries[key] = entry
	}

	entry.trim(cutoff)
	if len(entry.hits) >= l.capacity {
		return false, nil
	}
	entry.hits = append(entry.hits, now)
	return true, nil
}

// Run запускает фоновую очистку протухших ключей до отмены ctx.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

func (l *MemoryLimiter) evict() {
	cutoff := l.now().Add(-l.window)
	removed := 0

	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, entry := range sh.entries {
			entry.trim(cutoff)
			if len(entry.hits) == 0 {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		l.logger.WithField("removed", removed).Debug("rate limiter eviction completed")
	}
}

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLimiter) keyBudgetExceeded(sh *shard) bool {
	return len(sh.entries) >= l.maxKeys/shardCount
}

func (w *window) trim(cutoff time.Time) {
	idx := 0
	for idx < len(w.hits) && !w.hits[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.hits = append(w.hits[:0], w.hits[idx:]...)
	}
}

var _ domain.RateLimiter = (*MemoryLimiter)(nil)
