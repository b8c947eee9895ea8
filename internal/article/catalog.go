package article

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/articledesk/internal/cache"
	"github.com/hitoshi/articledesk/internal/model"
)

// CacheRecorder はキャッシュのヒット・ミスを記録するインターフェース。
type CacheRecorder interface {
	RecordCacheLookup(hit bool)
}

// Catalog は記事一覧をキャッシュ経由で読み出すArticlesのラッパー。
// 更新系の操作が成功する度にキャッシュを無効化する。
// 無効化に失敗した場合は、次に無効化が成功するまでキャッシュを使わない。
type Catalog struct {
	next     Articles
	cache    cache.ListCache
	logger   *slog.Logger
	recorder CacheRecorder

	group singleflight.Group

	// mu はepochの更新とキャッシュへのPut/Invalidateを直列化する
	mu    sync.Mutex
	epoch uint64
	// bypass は無効化に失敗し、キャッシュの中身が古い可能性があることを示す
	bypass bool
}

// NewCatalog はCatalogを生成する。listCacheがnilの場合はキャッシュしない。
func NewCatalog(next Articles, listCache cache.ListCache, logger *slog.Logger, recorder CacheRecorder) *Catalog {
	if listCache == nil {
		listCache = cache.NopListCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{next: next, cache: listCache, logger: logger, recorder: recorder}
}

// List はキャッシュにあればそれを返し、無ければ読み込んでキャッシュする。
// 同じ世代の読み込みは1回にまとめる。更新の後に始まった呼び出しは、
// 更新前から続いている読み込みには相乗りしない。
// 読み込み中に更新が入った場合、その結果はキャッシュしない。
func (c *Catalog) List(ctx context.Context) ([]*model.Article, error) {
	start, usable := c.begin(ctx)
	if usable {
		if articles, ok := c.cache.Get(ctx); ok {
			c.record(true)
			return articles, nil
		}
	}
	c.record(false)

	// 共有の読み込みは最初の呼び出し元が離脱しても続ける
	loadCtx := context.WithoutCancel(ctx)
	key := fmt.Sprintf("%s:%d", cache.DefaultKey, start)
	ch := c.group.DoChan(key, func() (any, error) {
		articles, err := c.next.List(loadCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		switch {
		case c.epoch != start:
			c.logger.Debug("article list changed while loading, skipping cache put")
		case c.bypass:
			c.logger.Debug("article list cache is bypassed, skipping cache put")
		default:
			c.cache.Put(loadCtx, articles)
		}
		c.mu.Unlock()

		return articles, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*model.Article), nil
	}
}

// Get は単一記事を返す。キャッシュは使わない。
func (c *Catalog) Get(ctx context.Context, id string) (*model.Article, error) {
	return c.next.Get(ctx, id)
}

// Create は記事を作成し、キャッシュを無効化する。
func (c *Catalog) Create(ctx context.Context, draft *model.ArticleDraft) (*model.Article, error) {
	a, err := c.next.Create(ctx, draft)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return a, nil
}

// Update は記事を更新し、キャッシュを無効化する。
func (c *Catalog) Update(ctx context.Context, id string, draft *model.ArticleDraft) (*model.Article, error) {
	a, err := c.next.Update(ctx, id, draft)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return a, nil
}

// UpdateStatus は公開状態を変更し、キャッシュを無効化する。
func (c *Catalog) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Article, error) {
	a, err := c.next.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx)
	return a, nil
}

// Delete は記事を削除し、キャッシュを無効化する。
func (c *Catalog) Delete(ctx context.Context, id string) error {
	if err := c.next.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx)
	return nil
}

// invalidate は世代を進めてキャッシュを破棄する。呼び出し元のキャンセルでは中断しない。
func (c *Catalog) invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if err := c.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
		c.bypass = true
		c.logger.Warn("article list cache invalidate failed, bypassing cache",
			slog.String("error", err.Error()),
		)
	}
}

// begin は読み込みの世代と、キャッシュを使ってよいかを返す。
// 無効化に失敗したままの場合は、ここで無効化をやり直す。
func (c *Catalog) begin(ctx context.Context) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bypass {
		if err := c.cache.Invalidate(context.WithoutCancel(ctx)); err != nil {
			return c.epoch, false
		}
		c.bypass = false
		c.logger.Info("article list cache invalidated after earlier failure")
	}
	return c.epoch, true
}

func (c *Catalog) record(hit bool) {
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(hit)
	}
}

// compile-time interface check
var _ Articles = (*Catalog)(nil)
