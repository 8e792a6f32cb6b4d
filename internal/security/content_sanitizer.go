// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は投稿の入力をサニタイズする。
// 本文はbluemondayの許可リストポリシーで簡単な書式のみを残し、
// タイトルと著者名はタグをすべて除去したプレーンテキストにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は投稿入力のサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// SanitizeBody は投稿本文を安全なHTMLにする。
	// 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em。
	// aタグのhrefはhttp/httpsの完全URLのみで、rel="nofollow noreferrer noopener"と
	// target="_blank"が付与される。同一入力に対して常に同一出力を返す。
	SanitizeBody(raw string) string

	// SanitizeText はタグをすべて除去し、前後の空白を取り除く。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	body   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	// script, iframe, style, img等は許可リストに含めないことで除去される
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		body:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// SanitizeBody は投稿本文をサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) SanitizeBody(raw string) string {
	return strings.TrimSpace(s.body.Sanitize(raw))
}

// SanitizeText はプレーンテキストとして扱う入力からタグを除去する。
func (s *contentSanitizer) SanitizeText(raw string) string {
	// テンプレート出力時にエスケープされるため、StrictPolicyが付けた実体参照は戻す
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}
