// Package cache は記事一覧のローカルキャッシュを提供する。
// コレクション全体を1つの固定キーに保存し、置き換えか無効化のみを行う。
package cache

import (
	"context"
	"sync"

	"github.com/hitoshi/articledesk/internal/model"
)

// DefaultKey は記事一覧を保存する既定のキー。
const DefaultKey = "articles"

// ListCache は記事一覧キャッシュのインターフェース。
type ListCache interface {
	// Get はキャッシュ済みの一覧を返す。未保存の場合はfalse。
	Get(ctx context.Context) ([]*model.Article, bool)
	// Put は一覧全体を置き換える。
	Put(ctx context.Context, articles []*model.Article)
	// Invalidate はキャッシュを破棄する。破棄できなかった場合はエラーを返す。
	Invalidate(ctx context.Context) error
}

// MemoryListCache はプロセス内のListCache実装。
type MemoryListCache struct {
	mu       sync.RWMutex
	articles []*model.Article
	ok       bool
}

// NewMemoryListCache はMemoryListCacheを生成する。
func NewMemoryListCache() *MemoryListCache {
	return &MemoryListCache{}
}

// Get はキャッシュ済みの一覧のコピーを返す。
func (c *MemoryListCache) Get(_ context.Context) ([]*model.Article, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ok {
		return nil, false
	}
	return cloneArticles(c.articles), true
}

// Put は一覧全体を置き換える。
func (c *MemoryListCache) Put(_ context.Context, articles []*model.Article) {
	cloned := cloneArticles(articles)
	c.mu.Lock()
	c.articles = cloned
	c.ok = true
	c.mu.Unlock()
}

// Invalidate はキャッシュを破棄する。
func (c *MemoryListCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	c.articles = nil
	c.ok = false
	c.mu.Unlock()
	return nil
}

// NopListCache は何も保存しないListCache。
type NopListCache struct{}

// Get は常にミスを返す。
func (NopListCache) Get(context.Context) ([]*model.Article, bool) { return nil, false }

// Put は何もしない。
func (NopListCache) Put(context.Context, []*model.Article) {}

// Invalidate は何もしない。
func (NopListCache) Invalidate(context.Context) error { return nil }

// cloneArticles は呼び出し側の変更がキャッシュに波及しないよう要素ごとに複製する。
func cloneArticles(in []*model.Article) []*model.Article {
	out := make([]*model.Article, len(in))
	for i, a := range in {
		if a == nil {
			continue
		}
		c := *a
		c.ThumbnailURL = cloneString(a.ThumbnailURL)
		c.MainImageURL = cloneString(a.MainImageURL)
		out[i] = &c
	}
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

// compile-time interface check
var (
	_ ListCache = (*MemoryListCache)(nil)
	_ ListCache = NopListCache{}
)
