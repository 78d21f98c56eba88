// Package dedup 提供运行期内的已访问集合，避免同一商品页被重复抓取。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pokepark:visited:"

// Set 记录已访问的 URL。Visit 在 URL 第一次出现时返回 false。
type Set interface {
	Visit(ctx context.Context, url string) (seen bool, err error)
	Len() int
}

// MemorySet 是进程内的已访问集合。
type MemorySet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemorySet() *MemorySet {
	return &MemorySet{seen: make(map[string]struct{})}
}

func (m *MemorySet) Visit(_ context.Context, url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[url]; ok {
		return true, nil
	}
	m.seen[url] = struct{}{}
	return false, nil
}

func (m *MemorySet) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// RedisSet 把已访问集合放在 Redis 中，键按命名空间隔离，过期后自动清理。
// 多个抓取进程（例如按关键词分片）使用同一命名空间时共享已访问集合，
// 一个商品页只会被其中一个进程抓取；命名空间为空时每次运行独立。
// Redis 不可用时退回到本地集合，不中断运行。
type RedisSet struct {
	rdb    *redis.Client
	ttl    time.Duration
	runID  string
	local  *MemorySet
	logger *slog.Logger
}

func NewRedisSet(rdb *redis.Client, ttl time.Duration, namespace string, logger *slog.Logger) *RedisSet {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = uuid.NewString()
	}
	return &RedisSet{
		rdb:    rdb,
		ttl:    ttl,
		runID:  namespace,
		local:  NewMemorySet(),
		logger: logger,
	}
}

// RunID 返回使用中的命名空间。
func (d *RedisSet) RunID() string { return d.runID }

func (d *RedisSet) Visit(ctx context.Context, url string) (bool, error) {
	// 本地集合总是同步记录，Redis 失败时用它兜底
	localSeen, _ := d.local.Visit(ctx, url)
	if d.rdb == nil || url == "" {
		return localSeen, nil
	}
	ok, err := d.rdb.SetNX(ctx, d.key(url), "1", d.ttl).Result()
	if err != nil {
		d.logger.Warn("visited set degraded to local memory", slog.String("error", err.Error()))
		return localSeen, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

func (d *RedisSet) Len() int { return d.local.Len() }

func (d *RedisSet) key(url string) string {
	return keyPrefix + d.runID + ":" + hashURL(url)
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
