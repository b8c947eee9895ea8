package model

import (
	"fmt"
	"sort"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, article, system
	Action   string            // ユーザー向け対処方法
	Fields   map[string]string // 入力項目ごとのエラー（validationのみ）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeArticleNotFound   = "ARTICLE_NOT_FOUND"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeUploadFailed      = "UPLOAD_FAILED"
	ErrCodePersistenceFailed = "PERSISTENCE_FAILED"
	ErrCodeNotSignedIn       = "NOT_SIGNED_IN"
	ErrCodeEmailNotAllowed   = "EMAIL_NOT_ALLOWED"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
	ErrCodeInvalidStatus     = "INVALID_STATUS"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
)

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
		Category: "article",
		Action:   "記事一覧を再読み込みしてください。",
	}
}

// NewNotSignedInError は未ログインエラーを生成する。
func NewNotSignedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSignedIn,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewEmailNotAllowedError は許可リスト外のメールアドレスによるアクセスエラーを生成する。
func NewEmailNotAllowedError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeEmailNotAllowed,
		Message:  fmt.Sprintf("Access denied. This email (%s) is not authorized.", email),
		Category: "auth",
		Action:   "許可されたアカウントでログインし直してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードの誤りを表すエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewInvalidStatusError は無効な公開状態エラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("無効な公開状態です: %s", status),
		Category: "validation",
		Action:   "公開状態には draft または published を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// ValidationError は入力検証で見つかった全ての違反をまとめて保持する。
// キーは入力項目名（title, content, thumbnail 等）。
type ValidationError struct {
	Violations map[string]string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Violations))
	for k := range e.Violations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Violations[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add は違反を追加する。同じ項目への2回目以降の追加は無視する。
func (e *ValidationError) Add(field, reason string) {
	if e.Violations == nil {
		e.Violations = make(map[string]string)
	}
	if _, ok := e.Violations[field]; ok {
		return
	}
	e.Violations[field] = reason
}

// Empty は違反が1件もない場合にtrueを返す。
func (e *ValidationError) Empty() bool {
	return len(e.Violations) == 0
}

// APIError は統一エラーフォーマットに変換する。
func (e *ValidationError) APIError() *APIError {
	fields := make(map[string]string, len(e.Violations))
	for k, v := range e.Violations {
		fields[k] = v
	}
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: "validation",
		Action:   "エラーが表示された項目を修正してください。",
		Fields:   fields,
	}
}

// UploadError は画像アップロードの失敗を表す。どの枠で失敗したかを保持する。
type UploadError struct {
	Slot  Slot
	Cause error
}

// Error はerrorインターフェースを実装する。
func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to upload %s image: %v", e.Slot, e.Cause)
}

// Unwrap は原因エラーを返す。
func (e *UploadError) Unwrap() error {
	return e.Cause
}

// APIError は統一エラーフォーマットに変換する。
func (e *UploadError) APIError() *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  fmt.Sprintf("画像のアップロードに失敗しました: %s", e.Slot),
		Category: "article",
		Action:   "しばらく待ってから再度保存してください。",
	}
}

// PersistenceError はレコードストアが書き込みを拒否したことを表す。
type PersistenceError struct {
	Op    string
	Cause error
}

// Error はerrorインターフェースを実装する。
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s article: %v", e.Op, e.Cause)
}

// Unwrap は原因エラーを返す。
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// APIError は統一エラーフォーマットに変換する。
func (e *PersistenceError) APIError() *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailed,
		Message:  "記事の保存に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
