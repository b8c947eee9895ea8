package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/articledesk/internal/model"
)

// RedisListCache はRedisに一覧をJSONで保存するListCache。
// TTLは設定せず、無効化は明示的なInvalidateのみで行う。
// Redisのエラーはミスとして扱い、ログに残す。
type RedisListCache struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// RedisOptions はRedisListCacheの設定。
type RedisOptions struct {
	URL            string
	Prefix         string
	Key            string
	ConnectTimeout time.Duration
}

// NewRedisListCache はURLからRedisクライアントを生成し、疎通確認を行う。
func NewRedisListCache(opts RedisOptions, logger *slog.Logger) (*RedisListCache, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL is required")
	}
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	redisOpts.DialTimeout = opts.ConnectTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisListCacheWithClient(client, opts.Prefix, opts.Key, logger), nil
}

// NewRedisListCacheWithClient は既存のクライアントからRedisListCacheを生成する。
func NewRedisListCacheWithClient(client *redis.Client, prefix, key string, logger *slog.Logger) *RedisListCache {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisListCache{client: client, key: prefix + key, logger: logger}
}

// Get はRedisから一覧を読み出す。
func (c *RedisListCache) Get(ctx context.Context) ([]*model.Article, bool) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("article list cache get failed",
				slog.String("key", c.key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	var articles []*model.Article
	if err := json.Unmarshal(data, &articles); err != nil {
		c.logger.Warn("article list cache entry is corrupt",
			slog.String("key", c.key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return articles, true
}

// Put は一覧全体を置き換える。
func (c *RedisListCache) Put(ctx context.Context, articles []*model.Article) {
	data, err := json.Marshal(articles)
	if err != nil {
		c.logger.Warn("failed to encode article list", slog.String("error", err.Error()))
		return
	}
	if err := c.client.Set(ctx, c.key, data, 0).Err(); err != nil {
		c.logger.Warn("article list cache put failed",
			slog.String("key", c.key),
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate はキーを削除する。
// TTLを持たないため、失敗は呼び出し側に返して扱いを委ねる。
func (c *RedisListCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate article list cache %q: %w", c.key, err)
	}
	return nil
}

// Close はRedisクライアントを閉じる。
func (c *RedisListCache) Close() error {
	return c.client.Close()
}

// compile-time interface check
var _ ListCache = (*RedisListCache)(nil)
