package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/articledesk/internal/gate"
	"github.com/hitoshi/articledesk/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Category string            `json:"category"`
	Action   string            `json:"action"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
		Fields:   apiErr.Fields,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteError はドメインのエラーを対応するHTTPステータスと統一フォーマットに変換して書き込む。
// 分類できないエラーは500として扱い、詳細はログにのみ残す。
func WriteError(w http.ResponseWriter, err error) {
	status, apiErr := ClassifyError(err)
	if apiErr == nil {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
	WriteErrorResponse(w, status, apiErr)
}

// ClassifyError はエラーをHTTPステータスとAPIErrorに分類する。分類できない場合はapiErrがnil。
func ClassifyError(err error) (int, *model.APIError) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, verr.APIError()
	}
	var upErr *model.UploadError
	if errors.As(err, &upErr) {
		return http.StatusBadGateway, upErr.APIError()
	}
	var pErr *model.PersistenceError
	if errors.As(err, &pErr) {
		return http.StatusInternalServerError, pErr.APIError()
	}
	if errors.Is(err, gate.ErrStopped) {
		return http.StatusServiceUnavailable, &model.APIError{
			Code:     "SESSION_UNRESOLVED",
			Message:  "セッションを確認できませんでした。",
			Category: "auth",
			Action:   "再度お試しください。",
		}
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError, nil
	}
	switch apiErr.Code {
	case model.ErrCodeArticleNotFound:
		return http.StatusNotFound, apiErr
	case model.ErrCodeNotSignedIn, model.ErrCodeInvalidCredential, model.ErrCodeUserNotFound:
		return http.StatusUnauthorized, apiErr
	case model.ErrCodeEmailNotAllowed:
		return http.StatusForbidden, apiErr
	case model.ErrCodeInvalidStatus, model.ErrCodeValidationFailed:
		return http.StatusBadRequest, apiErr
	}
	return http.StatusInternalServerError, apiErr
}
