package article

import (
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/articledesk/internal/model"
)

func TestRenderer_Render_DirectionFromLanguage(t *testing.T) {
	r := NewRenderer(nil)

	tests := []struct {
		lang model.Language
		want string
	}{
		{model.LanguageEnglish, `<article dir="ltr" lang="en">`},
		{model.LanguageUrdu, `<article dir="rtl" lang="ur">`},
	}
	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			got := r.Render(&model.Article{Title: "t", Content: "c", Language: tt.lang})
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("Render = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestRenderer_Render_Paragraphs(t *testing.T) {
	got := NewRenderer(nil).Render(&model.Article{
		Title:    "t",
		Content:  "first line\nsecond line\r\n\r\nnext paragraph\n\n\n",
		Language: model.LanguageEnglish,
	})
	if !strings.Contains(got, "<p>first line<br>second line</p>") {
		t.Errorf("first paragraph not rendered: %q", got)
	}
	if !strings.Contains(got, "<p>next paragraph</p>") {
		t.Errorf("second paragraph not rendered: %q", got)
	}
	if strings.Count(got, "<p>") != 2 {
		t.Errorf("expected 2 paragraphs: %q", got)
	}
}

func TestRenderer_Render_EscapesAndSanitizes(t *testing.T) {
	got := NewRenderer(nil).Render(&model.Article{
		Title:       `<script>alert("t")</script>`,
		Content:     `hello <script>alert(1)</script><strong>ok</strong>`,
		YouTubeLink: `javascript:alert(1)`,
		Language:    model.LanguageEnglish,
	})
	if strings.Contains(got, "<script") {
		t.Errorf("script survived: %q", got)
	}
	if !strings.Contains(got, "<strong>ok</strong>") {
		t.Errorf("allowed formatting removed: %q", got)
	}
	if strings.Contains(got, `href="javascript:`) {
		t.Errorf("javascript link rendered as anchor: %q", got)
	}
}

func TestRenderer_Render_ImagesDateAndLink(t *testing.T) {
	thumb := "https://cdn.example.com/article-images/thumbnail-1.png"
	main := "https://cdn.example.com/article-images/main-2.jpg"
	got := NewRenderer(nil).Render(&model.Article{
		Title:        "title",
		Content:      "body",
		YouTubeLink:  "https://www.youtube.com/watch?v=abc",
		Language:     model.LanguageUrdu,
		PublishDate:  time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		ThumbnailURL: &thumb,
		MainImageURL: &main,
	})

	for _, want := range []string{
		`src="` + thumb + `"`,
		`src="` + main + `"`,
		`<time datetime="2026-05-01">`,
		`<p dir="ltr"><a href="https://www.youtube.com/watch?v=abc"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Render output missing %q: %q", want, got)
		}
	}
}

func TestComputeStats(t *testing.T) {
	var articles []*model.Article
	for i := range 7 {
		st := model.StatusDraft
		if i%3 == 0 {
			st = model.StatusPublished
		}
		articles = append(articles, &model.Article{ID: string(rune('a' + i)), Status: st})
	}

	got := ComputeStats(articles)
	if got.Total != 7 || got.Published != 3 || got.Drafts != 4 {
		t.Errorf("Stats = %+v", got)
	}
	if len(got.Recent) != RecentLimit || got.Recent[0].ID != "a" || got.Recent[4].ID != "e" {
		t.Errorf("Recent = %v", got.Recent)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	got := ComputeStats(nil)
	if got.Total != 0 || len(got.Recent) != 0 {
		t.Errorf("Stats = %+v", got)
	}
}
