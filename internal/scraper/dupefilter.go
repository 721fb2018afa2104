// internal/scraper/dupefilter.go
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/valpere/ecomscrapexter/internal/crawl"
)

// DupeFilter remembers request fingerprints. SeenOrAdd reports whether fp
// was already known and records it otherwise.
type DupeFilter interface {
	SeenOrAdd(ctx context.Context, fp string) (bool, error)
	Close() error
}

// DupeConfig selects and configures the duplicate filter.
type DupeConfig struct {
	Backend   string        `yaml:"backend" json:"backend"` // memory, redis
	RedisAddr string        `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty"`
	RedisDB   int           `yaml:"redis_db,omitempty" json:"redis_db,omitempty"`
	Key       string        `yaml:"key,omitempty" json:"key,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// NewDupeFilter builds the configured filter. An empty backend means memory.
func NewDupeFilter(ctx context.Context, cfg DupeConfig) (DupeFilter, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryDupeFilter(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisDupeFilter(client, cfg.Key, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported dupe filter backend: %s", cfg.Backend)
	}
}

// Fingerprint hashes the method, the normalized URL and the body of req.
// Query parameters are sorted and the fragment is dropped.
func Fingerprint(req *crawl.Request) string {
	h := xxhash.New()
	_, _ = h.WriteString(strings.ToUpper(req.Method))
	_, _ = h.WriteString(" ")
	_, _ = h.WriteString(canonicalURL(req.URL))
	_, _ = h.WriteString(" ")
	_, _ = h.Write(req.Body)
	return strconv.FormatUint(h.Sum64(), 16)
}

func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = u.Query().Encode()
	return u.String()
}

// MemoryDupeFilter keeps fingerprints for the life of the process.
type MemoryDupeFilter struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDupeFilter() *MemoryDupeFilter {
	return &MemoryDupeFilter{seen: make(map[string]struct{})}
}

func (f *MemoryDupeFilter) SeenOrAdd(_ context.Context, fp string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[fp]; ok {
		return true, nil
	}
	f.seen[fp] = struct{}{}
	return false, nil
}

func (f *MemoryDupeFilter) Close() error { return nil }

// RedisDupeFilter stores fingerprints in a Redis set so several crawler
// processes, or a resumed crawl, share them.
type RedisDupeFilter struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisDupeFilter uses the set at key. A positive ttl expires the set
// after the last insert.
func NewRedisDupeFilter(client *redis.Client, key string, ttl time.Duration) *RedisDupeFilter {
	if key == "" {
		key = "ecomscrapexter:dupefilter"
	}
	return &RedisDupeFilter{client: client, key: key, ttl: ttl}
}

func (f *RedisDupeFilter) SeenOrAdd(ctx context.Context, fp string) (bool, error) {
	added, err := f.client.SAdd(ctx, f.key, fp).Result()
	if err != nil {
		return false, fmt.Errorf("redis SADD %s: %w", f.key, err)
	}
	if added > 0 && f.ttl > 0 {
		if err := f.client.Expire(ctx, f.key, f.ttl).Err(); err != nil {
			return false, fmt.Errorf("redis EXPIRE %s: %w", f.key, err)
		}
	}
	return added == 0, nil
}

// Ping checks the Redis connection.
func (f *RedisDupeFilter) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisDupeFilter) Close() error {
	return f.client.Close()
}
