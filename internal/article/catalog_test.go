package article

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/articledesk/internal/cache"
	"github.com/hitoshi/articledesk/internal/model"
)

type countingRecorder struct {
	mu           sync.Mutex
	hits, misses int
}

func (r *countingRecorder) RecordCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

// flakyListCache はInvalidateの失敗を切り替えられるListCache。
type flakyListCache struct {
	*cache.MemoryListCache
	failInvalidate atomic.Bool
}

func (c *flakyListCache) Invalidate(ctx context.Context) error {
	if c.failInvalidate.Load() {
		return errors.New("cache unavailable")
	}
	return c.MemoryListCache.Invalidate(ctx)
}

func newTestCatalog(repo *memArticleRepo) (*Catalog, *cache.MemoryListCache, *countingRecorder) {
	lc := cache.NewMemoryListCache()
	rec := &countingRecorder{}
	return NewCatalog(newTestService(repo, &mockUploader{}), lc, nil, rec), lc, rec
}

func TestCatalog_List_ReadsThroughCache(t *testing.T) {
	repo := newMemArticleRepo()
	cat, _, rec := newTestCatalog(repo)
	ctx := context.Background()

	if _, err := cat.Create(ctx, textDraft("T", "C")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	for range 3 {
		list, err := cat.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("len = %d, want 1", len(list))
		}
	}
	if repo.listCall != 1 {
		t.Errorf("repository List called %d times, want 1", repo.listCall)
	}
	if rec.hits != 2 || rec.misses != 1 {
		t.Errorf("hits=%d misses=%d, want 2/1", rec.hits, rec.misses)
	}
}

func TestCatalog_MutationsInvalidate(t *testing.T) {
	repo := newMemArticleRepo()
	cat, lc, _ := newTestCatalog(repo)
	ctx := context.Background()

	a, _ := cat.Create(ctx, textDraft("T", "C"))

	steps := []struct {
		name string
		run  func() error
	}{
		{"update", func() error { _, err := cat.Update(ctx, a.ID, textDraft("T2", "C2")); return err }},
		{"status", func() error { _, err := cat.UpdateStatus(ctx, a.ID, model.StatusPublished); return err }},
		{"delete", func() error { return cat.Delete(ctx, a.ID) }},
	}
	for _, st := range steps {
		t.Run(st.name, func(t *testing.T) {
			if _, err := cat.List(ctx); err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if _, ok := lc.Get(ctx); !ok {
				t.Fatal("expected cache to be populated")
			}
			if err := st.run(); err != nil {
				t.Fatalf("%s failed: %v", st.name, err)
			}
			if _, ok := lc.Get(ctx); ok {
				t.Errorf("cache should be invalidated after %s", st.name)
			}
		})
	}
}

func TestCatalog_FailedMutation_KeepsCache(t *testing.T) {
	repo := newMemArticleRepo()
	cat, lc, _ := newTestCatalog(repo)
	ctx := context.Background()

	if _, err := cat.List(ctx); err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if err := cat.Delete(ctx, "missing"); err == nil {
		t.Fatal("expected not found")
	}
	if _, ok := lc.Get(ctx); !ok {
		t.Error("failed mutation should not invalidate the cache")
	}
}

func TestCatalog_LoadOverlappingMutation_DoesNotCacheStaleList(t *testing.T) {
	repo := newMemArticleRepo()
	cat, lc, _ := newTestCatalog(repo)
	ctx := context.Background()

	loading := make(chan struct{})
	release := make(chan struct{})
	repo.listFn = func(context.Context) ([]*model.Article, error) {
		close(loading)
		<-release
		// 更新前の一覧を返す
		return []*model.Article{}, nil
	}

	done := make(chan []*model.Article)
	go func() {
		list, _ := cat.List(ctx)
		done <- list
	}()

	<-loading
	repo.listFn = nil
	if _, err := cat.Create(ctx, textDraft("T", "C")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	close(release)

	stale := <-done
	if len(stale) != 0 {
		t.Fatalf("loader should return what it read, got %d", len(stale))
	}
	if _, ok := lc.Get(ctx); ok {
		t.Fatal("stale list must not be cached")
	}

	fresh, err := cat.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(fresh) != 1 {
		t.Errorf("len = %d, want 1", len(fresh))
	}
}

func TestCatalog_List_ErrorNotCached(t *testing.T) {
	repo := newMemArticleRepo()
	cat, lc, _ := newTestCatalog(repo)
	repo.listFn = func(context.Context) ([]*model.Article, error) { return nil, errors.New("db down") }

	if _, err := cat.List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := lc.Get(context.Background()); ok {
		t.Error("error result must not be cached")
	}
}

func TestCatalog_NilCache_UsesNop(t *testing.T) {
	repo := newMemArticleRepo()
	cat := NewCatalog(newTestService(repo, &mockUploader{}), nil, nil, nil)
	ctx := context.Background()

	cat.List(ctx)
	cat.List(ctx)
	if repo.listCall != 2 {
		t.Errorf("listCall = %d, want 2", repo.listCall)
	}
}

// TestCatalog_ListAfterMutation_DoesNotJoinOlderLoad は更新の後に始まったListが、
// 更新前から続いている読み込みの結果を受け取らないことを検証する。
func TestCatalog_ListAfterMutation_DoesNotJoinOlderLoad(t *testing.T) {
	repo := newMemArticleRepo()
	cat, _, _ := newTestCatalog(repo)
	ctx := context.Background()

	loading := make(chan struct{})
	release := make(chan struct{})
	repo.listFn = func(context.Context) ([]*model.Article, error) {
		close(loading)
		<-release
		return []*model.Article{}, nil
	}

	first := make(chan []*model.Article, 1)
	go func() {
		list, _ := cat.List(ctx)
		first <- list
	}()
	<-loading

	repo.listFn = nil
	if _, err := cat.Create(ctx, textDraft("T", "C")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	type result struct {
		list []*model.Article
		err  error
	}
	second := make(chan result, 1)
	go func() {
		list, err := cat.List(ctx)
		second <- result{list, err}
	}()

	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	var got result
	select {
	case got = <-second:
	case <-time.After(time.Second):
		// 古い読み込みに相乗りしている場合はここで解放して結果を確かめる
		unblock()
		got = <-second
	}
	unblock()
	<-first

	if got.err != nil {
		t.Fatalf("List failed: %v", got.err)
	}
	if len(got.list) != 1 {
		t.Errorf("List issued after Create returned %d articles, want 1", len(got.list))
	}
}

// TestCatalog_CanceledCaller_DoesNotFailSharedLoad は最初の呼び出し元がキャンセルしても、
// 同じ読み込みを待つ他の呼び出し元は結果を受け取れることを検証する。
func TestCatalog_CanceledCaller_DoesNotFailSharedLoad(t *testing.T) {
	repo := newMemArticleRepo()
	cat, lc, _ := newTestCatalog(repo)

	loading := make(chan struct{})
	release := make(chan struct{})
	var loads atomic.Int32
	stored := &model.Article{ID: "a-1", Title: "T"}
	repo.listFn = func(ctx context.Context) ([]*model.Article, error) {
		if loads.Add(1) == 1 {
			close(loading)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []*model.Article{stored}, nil
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := cat.List(leaderCtx)
		leader <- err
	}()
	<-loading

	cancel()
	select {
	case err := <-leader:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("canceled caller err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled caller should return without waiting for the load")
	}

	follower := make(chan error, 1)
	var followerList []*model.Article
	go func() {
		list, err := cat.List(context.Background())
		followerList = list
		follower <- err
	}()
	close(release)

	if err := <-follower; err != nil {
		t.Fatalf("caller with live ctx got error: %v", err)
	}
	if len(followerList) != 1 {
		t.Errorf("len = %d, want 1", len(followerList))
	}
	if n := loads.Load(); n != 1 {
		t.Errorf("repository List called %d times, want 1", n)
	}
	if _, ok := lc.Get(context.Background()); !ok {
		t.Error("shared load should populate the cache")
	}
}

// TestCatalog_InvalidateFailure_BypassesUntilRecovered は無効化に失敗した後、
// 古いキャッシュを返さず、無効化が成功してからキャッシュを再び使うことを検証する。
func TestCatalog_InvalidateFailure_BypassesUntilRecovered(t *testing.T) {
	repo := newMemArticleRepo()
	lc := &flakyListCache{MemoryListCache: cache.NewMemoryListCache()}
	rec := &countingRecorder{}
	cat := NewCatalog(newTestService(repo, &mockUploader{}), lc, nil, rec)
	ctx := context.Background()

	if _, err := cat.Create(ctx, textDraft("T1", "C")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if list, _ := cat.List(ctx); len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}

	lc.failInvalidate.Store(true)
	if _, err := cat.Create(ctx, textDraft("T2", "C")); err != nil {
		t.Fatalf("Create should succeed even if the cache cannot be invalidated: %v", err)
	}

	for range 2 {
		list, err := cat.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("List returned %d articles while cache is stale, want 2", len(list))
		}
	}
	if stale, _ := lc.Get(ctx); len(stale) != 1 {
		t.Errorf("bypassed loads must not overwrite the cache, got %d entries", len(stale))
	}
	callsWhileBypassed := repo.listCall

	lc.failInvalidate.Store(false)
	if list, _ := cat.List(ctx); len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list, _ := cat.List(ctx); len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if got := repo.listCall - callsWhileBypassed; got != 1 {
		t.Errorf("repository List called %d times after recovery, want 1", got)
	}
}
