package article

import (
	"context"

	"github.com/hitoshi/articledesk/internal/model"
)

// Trace は記事保存処理の途中経過を受け取るフック群。
// net/http/httptrace と同様にcontextへ載せて渡す。nilのフィールドは呼ばれない。
// ImageUploadedは複数のgoroutineから同時に呼ばれることがある。
type Trace struct {
	// ImageUploaded は1枠の画像アップロードが成功した時に呼ばれる。
	ImageUploaded func(slot model.Slot, url string)
	// UploadsSettled は全てのアップロードが終わった時に1回だけ呼ばれる。
	// 画像がない場合も呼ばれる。errは最初に失敗したアップロードのエラー。
	UploadsSettled func(err error)
}

type traceKey struct{}

// WithTrace はtraceを載せたcontextを返す。
func WithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, trace)
}

// ContextTrace はctxに載っているTraceを返す。無い場合はnil。
func ContextTrace(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

func (t *Trace) imageUploaded(slot model.Slot, url string) {
	if t != nil && t.ImageUploaded != nil {
		t.ImageUploaded(slot, url)
	}
}

func (t *Trace) uploadsSettled(err error) {
	if t != nil && t.UploadsSettled != nil {
		t.UploadsSettled(err)
	}
}
