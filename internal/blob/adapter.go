package blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/articledesk/internal/model"
)

// UploadRecorder は画像アップロードの結果を記録するインターフェース。
// metrics.Collectorが実装する。
type UploadRecorder interface {
	RecordImageUpload(slot string, success bool, duration time.Duration)
}

// Adapter は添付画像をStoreに保存し、公開URLを返す。
type Adapter struct {
	store    Store
	logger   *slog.Logger
	recorder UploadRecorder
	now      func() time.Time

	mu     sync.Mutex
	lastMs int64
}

// Option はAdapterの設定関数。
type Option func(*Adapter)

// WithRecorder はアップロード結果の記録先を設定する。
func WithRecorder(r UploadRecorder) Option {
	return func(a *Adapter) { a.recorder = r }
}

// WithClock はオブジェクト名の生成に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter はAdapterを生成する。
func NewAdapter(store Store, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Upload は添付画像を <prefix>-<unixミリ秒>.<拡張子> という名前で保存し、公開URLを返す。
// 失敗時は*model.UploadErrorを返す。
func (a *Adapter) Upload(ctx context.Context, att *model.Attachment, slot model.Slot) (string, error) {
	if att == nil {
		return "", &model.UploadError{Slot: slot, Cause: fmt.Errorf("no attachment")}
	}

	start := time.Now()
	name := a.objectName(slot.ObjectPrefix(), att)

	path, err := a.store.Upload(ctx, name, bytes.NewReader(att.Data))
	a.record(slot, err == nil, time.Since(start))
	if err != nil {
		a.logger.Error("image upload failed",
			slog.String("slot", string(slot)),
			slog.String("object", name),
			slog.String("error", err.Error()),
		)
		return "", &model.UploadError{Slot: slot, Cause: err}
	}

	publicURL := a.store.PublicURL(path)
	a.logger.Info("image uploaded",
		slog.String("slot", string(slot)),
		slog.String("object", path),
		slog.Int64("size", int64(len(att.Data))),
	)
	return publicURL, nil
}

func (a *Adapter) record(slot model.Slot, success bool, d time.Duration) {
	if a.recorder != nil {
		a.recorder.RecordImageUpload(string(slot), success, d)
	}
}

// objectName はプロセス内で重複しないオブジェクト名を生成する。
// 同一ミリ秒内の呼び出しは直前の値+1ミリ秒を使う。
func (a *Adapter) objectName(prefix string, att *model.Attachment) string {
	a.mu.Lock()
	ms := a.now().UnixMilli()
	if ms <= a.lastMs {
		ms = a.lastMs + 1
	}
	a.lastMs = ms
	a.mu.Unlock()

	return fmt.Sprintf("%s-%d.%s", prefix, ms, extension(att))
}

// commonExtensions はmime.ExtensionsByTypeの並び順に依存しないための優先表。
var commonExtensions = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"image/avif":    "avif",
}

// extension は元のファイル名、Content-Typeの順で拡張子を決める。どちらも無い場合は"bin"。
func extension(att *model.Attachment) string {
	if ext := sanitizeExt(filepath.Ext(att.Filename)); ext != "" {
		return ext
	}

	mediaType, _, err := mime.ParseMediaType(att.ContentType)
	if err == nil {
		if ext, ok := commonExtensions[mediaType]; ok {
			return ext
		}
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			if ext := sanitizeExt(exts[0]); ext != "" {
				return ext
			}
		}
	}
	return "bin"
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
