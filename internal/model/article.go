package model

import (
	"fmt"
	"strings"
	"time"
)

// Language は記事本文の言語を表す。
type Language string

const (
	LanguageEnglish Language = "english"
	LanguageUrdu    Language = "urdu"
)

// ParseLanguage は大文字小文字を区別せずに言語を解釈する。
// 空文字はエラーとして扱う。既定値の補完は呼び出し側の責務。
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguageEnglish:
		return LanguageEnglish, nil
	case LanguageUrdu:
		return LanguageUrdu, nil
	}
	return "", fmt.Errorf("unknown language: %q", s)
}

// Direction は言語の書字方向（"ltr" / "rtl"）を返す。
func (l Language) Direction() string {
	if l == LanguageUrdu {
		return "rtl"
	}
	return "ltr"
}

// Tag はBCP 47言語タグを返す。
func (l Language) Tag() string {
	if l == LanguageUrdu {
		return "ur"
	}
	return "en"
}

// Status は記事の公開状態を表す。
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// ParseStatus は大文字小文字を区別せずに公開状態を解釈する。
// フォームからは "Draft" / "Published" が送られてくる。
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusDraft:
		return StatusDraft, nil
	case StatusPublished:
		return StatusPublished, nil
	}
	return "", fmt.Errorf("unknown status: %q", s)
}

// Slot は記事に添付できる画像の枠を表す。
type Slot string

const (
	SlotThumbnail Slot = "thumbnail"
	SlotMainImage Slot = "mainImage"
)

// Slots は画像枠の一覧を固定順で返す。
func Slots() []Slot {
	return []Slot{SlotThumbnail, SlotMainImage}
}

// ObjectPrefix はBlobストア上のオブジェクト名の接頭辞を返す。
func (s Slot) ObjectPrefix() string {
	if s == SlotMainImage {
		return "main"
	}
	return "thumbnail"
}

// DateLayout はpublish_dateの表現形式。
const DateLayout = "2006-01-02"

// Article は記事を表す。
// IDは挿入時にDBが採番し、以後変更されない。
type Article struct {
	ID           string
	Title        string
	Content      string
	YouTubeLink  string
	Language     Language
	PublishDate  time.Time
	Status       Status
	ThumbnailURL *string
	MainImageURL *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ImageURL は指定枠の画像URLを返す。未設定の場合はnil。
func (a *Article) ImageURL(slot Slot) *string {
	if slot == SlotMainImage {
		return a.MainImageURL
	}
	return a.ThumbnailURL
}

// SetImageURL は指定枠の画像URLを設定する。
func (a *Article) SetImageURL(slot Slot, url *string) {
	if slot == SlotMainImage {
		a.MainImageURL = url
		return
	}
	a.ThumbnailURL = url
}

// Attachment はフォームから受け取った一時的な画像ファイル。
// 永続化されず、1回の投稿でのみ消費される。
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// ArticleDraft は検証済みの入力値と添付画像の組。
// Imagesに含まれない枠は「変更なし」を意味する。
type ArticleDraft struct {
	Title       string
	Content     string
	YouTubeLink string
	Language    Language
	PublishDate time.Time
	Status      Status
	Images      map[Slot]*Attachment
}

// Image は指定枠の添付画像を返す。
func (d *ArticleDraft) Image(slot Slot) *Attachment {
	if d.Images == nil {
		return nil
	}
	return d.Images[slot]
}

// Principal は認証済みの利用者を表す。
// Gateはセッション確認の度に再取得し、独自に保持しない。
type Principal struct {
	UserID    string
	Email     string
	Name      string
	AvatarURL string
}
