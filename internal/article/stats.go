package article

import (
	"strings"

	"github.com/hitoshi/articledesk/internal/model"
)

// RecentLimit はダッシュボードに表示する最近の記事の件数。
const RecentLimit = 5

// Stats はダッシュボード用の集計値。
type Stats struct {
	Total     int
	Published int
	Drafts    int
	Recent    []*model.Article
}

// ComputeStats は作成日時の降順に並んだ記事一覧から集計値を求める。
func ComputeStats(articles []*model.Article) Stats {
	st := Stats{Total: len(articles)}
	for _, a := range articles {
		switch a.Status {
		case model.StatusPublished:
			st.Published++
		case model.StatusDraft:
			st.Drafts++
		}
	}

	n := min(len(articles), RecentLimit)
	st.Recent = make([]*model.Article, n)
	copy(st.Recent, articles[:n])
	return st
}

// FilterByTitle はタイトルにqueryを含む記事だけを元の順序のまま返す。
// 大文字小文字は区別しない。queryが空白のみの場合は一覧をそのまま返す。
func FilterByTitle(articles []*model.Article, query string) []*model.Article {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return articles
	}
	out := make([]*model.Article, 0, len(articles))
	for _, a := range articles {
		if strings.Contains(strings.ToLower(a.Title), q) {
			out = append(out, a)
		}
	}
	return out
}
