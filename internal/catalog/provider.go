package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/silencecat2007/pokepark-kanto/internal/model"
)

//go:embed catalog.json
var defaultCatalog []byte

const cacheKey = "pokepark:catalog:v1"

// Provider 提供图鉴条目。Load 优先读缓存，Refresh 绕过并重写缓存。
type Provider interface {
	Load(ctx context.Context) ([]model.CatalogEntry, error)
	Refresh(ctx context.Context) ([]model.CatalogEntry, error)
}

// Cache 是图鉴条目的缓存。命中失败返回 (nil, false, nil)。
type Cache interface {
	Get(ctx context.Context) ([]model.CatalogEntry, bool, error)
	Set(ctx context.Context, entries []model.CatalogEntry) error
}

// SourceProvider 从内置表、本地文件或 URL 读取图鉴，可选缓存。
type SourceProvider struct {
	source     string
	cache      Cache
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSourceProvider 创建 provider。source 为空时使用内置表；
// 以 http:// 或 https:// 开头时通过 HTTP 获取；否则视为本地文件路径。
func NewSourceProvider(source string, cache Cache, logger *slog.Logger) *SourceProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceProvider{
		source:     strings.TrimSpace(source),
		cache:      cache,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

func (p *SourceProvider) Load(ctx context.Context) ([]model.CatalogEntry, error) {
	if p.cache != nil {
		entries, ok, err := p.cache.Get(ctx)
		if err != nil {
			p.logger.Warn("catalog cache read failed", slog.String("error", err.Error()))
		} else if ok {
			p.logger.Debug("catalog loaded from cache", slog.Int("entries", len(entries)))
			return entries, nil
		}
	}
	return p.Refresh(ctx)
}

func (p *SourceProvider) Refresh(ctx context.Context) ([]model.CatalogEntry, error) {
	raw, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, fmt.Errorf("decode catalog from %s: %w", p.sourceName(), err)
	}
	// 未通过校验的图鉴不写缓存，否则后续每次 Load 都会读到它
	if err := CheckIntegrity(entries); err != nil {
		return nil, fmt.Errorf("catalog from %s: %w", p.sourceName(), err)
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, entries); err != nil {
			p.logger.Warn("catalog cache write failed", slog.String("error", err.Error()))
		}
	}
	p.logger.Info("catalog refreshed",
		slog.String("source", p.sourceName()),
		slog.Int("entries", len(entries)),
	)
	return entries, nil
}

func (p *SourceProvider) fetch(ctx context.Context) ([]byte, error) {
	switch {
	case p.source == "":
		return defaultCatalog, nil
	case strings.HasPrefix(p.source, "http://"), strings.HasPrefix(p.source, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.source, nil)
		if err != nil {
			return nil, fmt.Errorf("build catalog request: %w", err)
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch catalog: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch catalog: unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	default:
		b, err := os.ReadFile(p.source)
		if err != nil {
			return nil, fmt.Errorf("read catalog file: %w", err)
		}
		return b, nil
	}
}

func (p *SourceProvider) sourceName() string {
	if p.source == "" {
		return "embedded"
	}
	return p.source
}

func decodeEntries(raw []byte) ([]model.CatalogEntry, error) {
	var entries []model.CatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// DefaultEntries 返回内置的 151 条图鉴。
func DefaultEntries() []model.CatalogEntry {
	entries, err := decodeEntries(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return entries
}

// RedisCache 将图鉴以 JSON 形式缓存在 Redis 中。
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context) ([]model.CatalogEntry, bool, error) {
	if c == nil || c.rdb == nil {
		return nil, false, nil
	}
	raw, err := c.rdb.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog cache get: %w", err)
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, false, fmt.Errorf("catalog cache decode: %w", err)
	}
	return entries, true, nil
}

func (c *RedisCache) Set(ctx context.Context, entries []model.CatalogEntry) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("catalog cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("catalog cache set: %w", err)
	}
	return nil
}

// LoadRegistry 加载并校验注册表。
//
// 缓存里的表校验失败时强制刷新一次；刷新后仍然失败则返回
// ErrRegistryContamination，调用方必须在抓取前终止运行。
func LoadRegistry(ctx context.Context, p Provider, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	reg, err := New(entries)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, ErrRegistryContamination) {
		return nil, err
	}

	logger.Warn("catalog failed integrity check, forcing refresh", slog.String("error", err.Error()))
	entries, rerr := p.Refresh(ctx)
	if rerr != nil {
		return nil, fmt.Errorf("refresh catalog after %v: %w", err, rerr)
	}
	reg, err = New(entries)
	if err != nil {
		return nil, fmt.Errorf("after forced refresh: %w", err)
	}
	return reg, nil
}
