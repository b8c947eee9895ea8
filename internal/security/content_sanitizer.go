// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は記事本文のHTMLをサニタイズし、
// プレビュー表示時のXSSを防ぐ。
// bluemondayの許可リストベースのポリシーで、書式用のタグと
// 書字方向の指定のみを通過させる。
package security

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// contentLanguage は本文中で指定できるlang属性の値。記事の言語である英語とウルドゥー語のみ。
var contentLanguage = regexp.MustCompile(`(?i)^(en|ur)(-[a-z]{2})?$`)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 許可タグ（br, a, ul, ol, li, blockquote, strong, em, b, i, u, bdi, bdo, span）のみを通過させる。
	// 段落はRenderer側で組み立てるため、pタグは除去する（本文は残る）。
	// aタグはhttp/httpsの絶対URLのみ許可し、target="_blank"とrel="noopener noreferrer"を付与する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"br", "ul", "ol", "li", "blockquote",
		"strong", "em", "b", "i", "u",
		"bdi", "bdo", "span",
	)

	// 英語とウルドゥー語が混在する本文のため、書字方向の指定は許可する
	p.AllowAttrs("dir").Matching(bluemonday.Direction).OnElements("bdo", "bdi", "span", "blockquote", "li")
	p.AllowAttrs("lang").Matching(contentLanguage).OnElements("bdo", "bdi", "span", "blockquote", "li")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
