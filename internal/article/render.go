package article

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/hitoshi/articledesk/internal/model"
	"github.com/hitoshi/articledesk/internal/security"
)

// Renderer は記事のプレビューHTMLを組み立てる。
type Renderer struct {
	sanitizer security.ContentSanitizerService
}

// NewRenderer はRendererを生成する。sanitizerがnilの場合は既定のポリシーを使う。
func NewRenderer(sanitizer security.ContentSanitizerService) *Renderer {
	if sanitizer == nil {
		sanitizer = security.NewContentSanitizer()
	}
	return &Renderer{sanitizer: sanitizer}
}

// Render は記事をプレビュー用のHTML断片に変換する。
// 言語に応じてdir/lang属性を付け、本文は空行区切りで段落に分ける。
func (r *Renderer) Render(a *model.Article) string {
	var b strings.Builder

	fmt.Fprintf(&b, `<article dir="%s" lang="%s">`, a.Language.Direction(), a.Language.Tag())

	if a.ThumbnailURL != nil {
		fmt.Fprintf(&b, `<img class="thumbnail" src="%s" alt="">`, html.EscapeString(*a.ThumbnailURL))
	}
	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(a.Title))
	if !a.PublishDate.IsZero() {
		d := a.PublishDate.Format(model.DateLayout)
		fmt.Fprintf(&b, `<time datetime="%s">%s</time>`, d, d)
	}
	if a.MainImageURL != nil {
		fmt.Fprintf(&b, `<img class="main-image" src="%s" alt="">`, html.EscapeString(*a.MainImageURL))
	}

	for _, para := range paragraphs(a.Content) {
		body := r.sanitizer.Sanitize(strings.ReplaceAll(para, "\n", "<br>"))
		if strings.TrimSpace(body) == "" {
			continue
		}
		fmt.Fprintf(&b, "<p>%s</p>", body)
	}

	if link := strings.TrimSpace(a.YouTubeLink); link != "" {
		// YouTubeリンクは本文の書字方向に関わらず左から右に表示する
		if isWebURL(link) {
			fmt.Fprintf(&b, `<p dir="ltr"><a href="%s" target="_blank" rel="noopener noreferrer">%s</a></p>`,
				html.EscapeString(link), html.EscapeString(link))
		} else {
			fmt.Fprintf(&b, `<p dir="ltr">%s</p>`, html.EscapeString(link))
		}
	}

	b.WriteString("</article>")
	return b.String()
}

func isWebURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// paragraphs は本文を空行で段落に分割する。
func paragraphs(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(content, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
