package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/articledesk/internal/article"
	"github.com/hitoshi/articledesk/internal/gate"
	"github.com/hitoshi/articledesk/internal/middleware"
	"github.com/hitoshi/articledesk/internal/model"
	"github.com/hitoshi/articledesk/internal/submission"
)

// フォームのファイル項目名と画像の枠の対応
var fieldSlots = map[string]model.Slot{
	"thumbnail":  model.SlotThumbnail,
	"main_image": model.SlotMainImage,
}

// ArticleHandlerConfig は記事ハンドラーの設定。
type ArticleHandlerConfig struct {
	MaxImageSize int64
	Recorder     submission.Recorder
}

// ArticleHandler は記事管理のHTTPハンドラー。
// 記事操作は全てリクエストのGateで保護した上で行う。
type ArticleHandler struct {
	articles article.Articles
	renderer *article.Renderer
	config   ArticleHandlerConfig
	logger   *slog.Logger
}

// NewArticleHandler はArticleHandlerを生成する。articlesにはキャッシュ付きのCatalogを渡す。
func NewArticleHandler(articles article.Articles, renderer *article.Renderer, config ArticleHandlerConfig, logger *slog.Logger) *ArticleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if renderer == nil {
		renderer = article.NewRenderer(nil)
	}
	if config.MaxImageSize <= 0 {
		config.MaxImageSize = submission.DefaultMaxImageSize
	}
	return &ArticleHandler{articles: articles, renderer: renderer, config: config, logger: logger}
}

// guarded はリクエストのGateで保護したarticle.Articlesを返す。
func (h *ArticleHandler) guarded(r *http.Request) (article.Articles, error) {
	g, ok := middleware.GateFromContext(r.Context())
	if !ok {
		return nil, model.NewNotSignedInError()
	}
	return gate.Guard(g, h.articles), nil
}

func (h *ArticleHandler) workflow(articles article.Articles) *submission.Workflow {
	opts := []submission.Option{submission.WithMaxImageSize(h.config.MaxImageSize)}
	if h.config.Recorder != nil {
		opts = append(opts, submission.WithRecorder(h.config.Recorder))
	}
	return submission.New(articles, h.logger, opts...)
}

// ListArticles は記事一覧を作成日時の降順で返す。
// qを指定した場合はタイトルで絞り込む。絞り込みはキャッシュから読んだ後に行う。
// GET /api/articles?q=
func (h *ArticleHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	list, err := articles.List(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	list = article.FilterByTitle(list, r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, toArticleResponses(list))
}

// CreateArticle はフォームから記事を作成する。
// POST /api/articles（multipart/form-data）
func (h *ArticleHandler) CreateArticle(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	form, err := h.parseForm(w, r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	a, err := h.workflow(articles).Create(r.Context(), form)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toArticleResponse(a))
}

// GetArticle は記事を1件返す。
// GET /api/articles/{id}
func (h *ArticleHandler) GetArticle(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	a, err := articles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

// UpdateArticle はフォームで記事を更新する。ファイルが添付されていない画像枠は変更しない。
// PUT /api/articles/{id}（multipart/form-data）
func (h *ArticleHandler) UpdateArticle(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	form, err := h.parseForm(w, r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	a, err := h.workflow(articles).Update(r.Context(), chi.URLParam(r, "id"), form)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

// updateStatusRequest は公開状態更新リクエストのボディ。
type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus は公開状態のみを更新する。
// PUT /api/articles/{id}/status
func (h *ArticleHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		middleware.WriteError(w, model.NewInvalidStatusError(req.Status))
		return
	}

	a, err := articles.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

// DeleteArticle は記事を削除する。画像ファイルは残る。
// DELETE /api/articles/{id}
func (h *ArticleHandler) DeleteArticle(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := articles.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewArticle は記事を言語の書字方向に合わせたHTMLで返す。
// GET /api/articles/{id}/preview
func (h *ArticleHandler) PreviewArticle(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	a, err := articles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, h.renderer.Render(a))
}

// dashboardResponse はダッシュボードのAPIレスポンス。
type dashboardResponse struct {
	Total     int               `json:"total"`
	Published int               `json:"published"`
	Drafts    int               `json:"drafts"`
	Recent    []articleResponse `json:"recent"`
}

// Dashboard は記事数の集計と最近の記事を返す。
// GET /api/dashboard
func (h *ArticleHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	articles, err := h.guarded(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	list, err := articles.List(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	st := article.ComputeStats(list)
	writeJSON(w, http.StatusOK, dashboardResponse{
		Total:     st.Total,
		Published: st.Published,
		Drafts:    st.Drafts,
		Recent:    toArticleResponses(st.Recent),
	})
}

// parseForm はmultipart/form-dataまたはURLエンコードのフォームをsubmission.Formに変換する。
// 画像のサイズや形式は検証しない（Workflowが他の項目と合わせて検証する）。
func (h *ArticleHandler) parseForm(w http.ResponseWriter, r *http.Request) (submission.Form, error) {
	// 画像2枚分の上限に本文用の余裕を足したものをリクエスト全体の上限とする
	limit := 2*h.config.MaxImageSize + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	mr, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) {
		if err := r.ParseForm(); err != nil {
			return submission.Form{}, h.bodyError(err, limit, nil)
		}
		return newForm(r.PostForm, nil), nil
	}
	if err != nil {
		return submission.Form{}, invalidForm(err)
	}
	return h.readMultipart(mr, limit)
}

// readMultipart はパートを順に読み込む。ファイルは上限を1バイト超えた所で保持をやめ、
// 残りは読み捨てて実際のサイズだけを記録する。
func (h *ArticleHandler) readMultipart(mr *multipart.Reader, limit int64) (submission.Form, error) {
	values := url.Values{}
	images := make(map[model.Slot]*model.Attachment)
	var oversized []model.Slot

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return submission.Form{}, h.bodyError(err, limit, oversized)
		}

		name := part.FormName()
		slot, isSlot := fieldSlots[name]
		switch {
		case name == "":
		case isSlot && part.FileName() != "":
			att, err := readAttachment(part, h.config.MaxImageSize)
			if att != nil && att.Size > h.config.MaxImageSize {
				oversized = append(oversized, slot)
			}
			if err != nil {
				part.Close()
				return submission.Form{}, h.bodyError(err, limit, oversized)
			}
			if att != nil {
				images[slot] = att
			}
		case !isSlot:
			data, err := io.ReadAll(part)
			if err != nil {
				part.Close()
				return submission.Form{}, h.bodyError(err, limit, oversized)
			}
			values.Add(name, string(data))
		}
		part.Close()
	}
	return newForm(values, images), nil
}

func newForm(values url.Values, images map[model.Slot]*model.Attachment) submission.Form {
	if images == nil {
		images = make(map[model.Slot]*model.Attachment)
	}
	return submission.Form{
		Title:       values.Get("title"),
		Content:     values.Get("content"),
		YouTubeLink: values.Get("youtube_link"),
		Language:    values.Get("language"),
		PublishDate: values.Get("publish_date"),
		Status:      values.Get("status"),
		Images:      images,
	}
}

// readAttachment はファイルのパートを読み込む。空のファイルはnil。
// 上限を超えた場合はDataを持たず、Sizeに読み捨てた分まで含めた大きさを入れる。
func readAttachment(part *multipart.Part, maxSize int64) (*model.Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", part.FormName(), err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	att := &model.Attachment{
		Filename:    part.FileName(),
		ContentType: contentType(part.Header),
		Size:        int64(len(data)),
		Data:        data,
	}
	if att.Size > maxSize {
		att.Data = nil
		n, err := io.Copy(io.Discard, part)
		att.Size += n
		if err != nil {
			return att, fmt.Errorf("failed to read %s: %w", part.FormName(), err)
		}
	}
	return att, nil
}

func contentType(h textproto.MIMEHeader) string {
	if ct := h.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// bodyError は読み込み中のエラーを変換する。上限超過の時点で大きすぎる画像が分かっていれば、
// フォーム全体ではなくその画像の項目の違反として返す。
func (h *ArticleHandler) bodyError(err error, limit int64, oversized []model.Slot) error {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return invalidForm(err)
	}
	if len(oversized) == 0 {
		return bodyTooLarge(limit)
	}
	verr := &model.ValidationError{}
	for _, slot := range oversized {
		verr.Add(string(slot), submission.TooLargeMessage(h.config.MaxImageSize))
	}
	return verr
}

func bodyTooLarge(limit int64) error {
	verr := &model.ValidationError{}
	verr.Add("form", fmt.Sprintf("Request body must be smaller than %d bytes", limit))
	return verr
}

func invalidForm(err error) error {
	return &model.APIError{
		Code:     model.ErrCodeValidationFailed,
		Message:  fmt.Sprintf("フォームの解析に失敗しました: %v", err),
		Category: "validation",
		Action:   "フォームの内容を確認して再度送信してください。",
	}
}
