package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/articledesk/internal/model"
)

// countingArticles は呼び出し回数を数えるarticle.Articles。
type countingArticles struct {
	calls int
}

func (c *countingArticles) Create(context.Context, *model.ArticleDraft) (*model.Article, error) {
	c.calls++
	return &model.Article{ID: "a-1"}, nil
}
func (c *countingArticles) List(context.Context) ([]*model.Article, error) {
	c.calls++
	return []*model.Article{}, nil
}
func (c *countingArticles) Get(context.Context, string) (*model.Article, error) {
	c.calls++
	return &model.Article{ID: "a-1"}, nil
}
func (c *countingArticles) Update(context.Context, string, *model.ArticleDraft) (*model.Article, error) {
	c.calls++
	return &model.Article{ID: "a-1"}, nil
}
func (c *countingArticles) UpdateStatus(context.Context, string, model.Status) (*model.Article, error) {
	c.calls++
	return &model.Article{ID: "a-1"}, nil
}
func (c *countingArticles) Delete(context.Context, string) error {
	c.calls++
	return nil
}

func callAll(ctx context.Context, g *Guarded) []error {
	_, e1 := g.Create(ctx, &model.ArticleDraft{})
	_, e2 := g.List(ctx)
	_, e3 := g.Get(ctx, "a-1")
	_, e4 := g.Update(ctx, "a-1", &model.ArticleDraft{})
	_, e5 := g.UpdateStatus(ctx, "a-1", model.StatusPublished)
	e6 := g.Delete(ctx, "a-1")
	return []error{e1, e2, e3, e4, e5, e6}
}

func TestGuard_Authorized_PassesThrough(t *testing.T) {
	g := New(newFakeSession(editor()), allow, nil)
	g.Start(context.Background())
	defer g.Stop()

	next := &countingArticles{}
	for i, err := range callAll(context.Background(), Guard(g, next)) {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
	if next.calls != 6 {
		t.Errorf("calls = %d, want 6", next.calls)
	}
}

func TestGuard_Unauthorized_NeverReachesRepository(t *testing.T) {
	tests := []struct {
		name      string
		principal *model.Principal
		code      string
	}{
		{"anonymous", nil, model.ErrCodeNotSignedIn},
		{"not allow-listed", stranger(), model.ErrCodeEmailNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(newFakeSession(tt.principal), allow, nil)
			g.Start(context.Background())
			defer g.Stop()

			next := &countingArticles{}
			for i, err := range callAll(context.Background(), Guard(g, next)) {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != tt.code {
					t.Errorf("call %d: err = %v, want %s", i, err, tt.code)
				}
			}
			if next.calls != 0 {
				t.Errorf("repository reached %d times", next.calls)
			}
		})
	}
}

func TestGuard_RevokedMidSession_RejectsLaterCalls(t *testing.T) {
	s := newFakeSession(editor())
	g := New(s, allow, nil)
	g.Start(context.Background())
	defer g.Stop()

	next := &countingArticles{}
	guarded := Guard(g, next)
	if _, err := guarded.List(context.Background()); err != nil {
		t.Fatalf("List failed: %v", err)
	}

	s.emit(stranger())

	if _, err := guarded.List(context.Background()); err == nil {
		t.Fatal("expected rejection after switching to a non allow-listed account")
	}
	if next.calls != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}
}
