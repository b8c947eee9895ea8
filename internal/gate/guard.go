package gate

import (
	"context"

	"github.com/hitoshi/articledesk/internal/article"
	"github.com/hitoshi/articledesk/internal/model"
)

// Guarded は全ての記事操作の前にGateの判定を待つarticle.Articles。
// 許可されていない呼び出しはリポジトリにもキャッシュにも届かない。
type Guarded struct {
	gate *Gate
	next article.Articles
}

// Guard はnextをgateで保護したarticle.Articlesを返す。
func Guard(gate *Gate, next article.Articles) *Guarded {
	return &Guarded{gate: gate, next: next}
}

func (g *Guarded) authorize(ctx context.Context) error {
	_, err := g.gate.Await(ctx)
	return err
}

// Create は認可を確認してから記事を作成する。
func (g *Guarded) Create(ctx context.Context, draft *model.ArticleDraft) (*model.Article, error) {
	if err := g.authorize(ctx); err != nil {
		return nil, err
	}
	return g.next.Create(ctx, draft)
}

// List は認可を確認してから記事一覧を返す。
func (g *Guarded) List(ctx context.Context) ([]*model.Article, error) {
	if err := g.authorize(ctx); err != nil {
		return nil, err
	}
	return g.next.List(ctx)
}

// Get は認可を確認してから記事を返す。
func (g *Guarded) Get(ctx context.Context, id string) (*model.Article, error) {
	if err := g.authorize(ctx); err != nil {
		return nil, err
	}
	return g.next.Get(ctx, id)
}

// Update は認可を確認してから記事を更新する。
func (g *Guarded) Update(ctx context.Context, id string, draft *model.ArticleDraft) (*model.Article, error) {
	if err := g.authorize(ctx); err != nil {
		return nil, err
	}
	return g.next.Update(ctx, id, draft)
}

// UpdateStatus は認可を確認してから公開状態を変更する。
func (g *Guarded) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Article, error) {
	if err := g.authorize(ctx); err != nil {
		return nil, err
	}
	return g.next.UpdateStatus(ctx, id, status)
}

// Delete は認可を確認してから記事を削除する。
func (g *Guarded) Delete(ctx context.Context, id string) error {
	if err := g.authorize(ctx); err != nil {
		return err
	}
	return g.next.Delete(ctx, id)
}

// compile-time interface check
var _ article.Articles = (*Guarded)(nil)
