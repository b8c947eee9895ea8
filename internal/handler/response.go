// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/articledesk/internal/middleware"
	"github.com/hitoshi/articledesk/internal/model"
)

// articleResponse は記事のAPIレスポンス。
type articleResponse struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	YouTubeLink  string    `json:"youtube_link"`
	Language     string    `json:"language"`
	Direction    string    `json:"direction"`
	PublishDate  string    `json:"publish_date"`
	Status       string    `json:"status"`
	ThumbnailURL *string   `json:"thumbnail_url"`
	MainImageURL *string   `json:"main_image_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toArticleResponse(a *model.Article) articleResponse {
	return articleResponse{
		ID:           a.ID,
		Title:        a.Title,
		Content:      a.Content,
		YouTubeLink:  a.YouTubeLink,
		Language:     string(a.Language),
		Direction:    a.Language.Direction(),
		PublishDate:  a.PublishDate.Format(model.DateLayout),
		Status:       string(a.Status),
		ThumbnailURL: a.ThumbnailURL,
		MainImageURL: a.MainImageURL,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toArticleResponses(articles []*model.Article) []articleResponse {
	out := make([]articleResponse, len(articles))
	for i, a := range articles {
		out[i] = toArticleResponse(a)
	}
	return out
}

// principalResponse はログイン中の利用者のAPIレスポンス。
type principalResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func toPrincipalResponse(p *model.Principal) principalResponse {
	return principalResponse{ID: p.UserID, Email: p.Email, Name: p.Name, AvatarURL: p.AvatarURL}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeInvalidRequest はリクエスト形式の誤りを400で返す。
func writeInvalidRequest(w http.ResponseWriter, message string) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "リクエストの形式を確認してください。",
	})
}
