package submission

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/hitoshi/articledesk/internal/model"
)

// DefaultMaxImageSize は添付画像1枚あたりの既定の上限（2 MiB）。
const DefaultMaxImageSize int64 = 2 * 1024 * 1024

// checkImage は添付画像がサイズ上限に収まり、画像として読めるかを確認する。
// 違反がある場合はフォームに表示する文言を返す。
func checkImage(att *model.Attachment, maxSize int64) string {
	size := att.Size
	if n := int64(len(att.Data)); n > size {
		size = n
	}
	if size > maxSize {
		return TooLargeMessage(maxSize)
	}
	if len(att.Data) == 0 {
		return "File is empty"
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(att.Data))
	if err != nil {
		return "File is not a supported image (png, jpeg, gif, webp)"
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Sprintf("Image has invalid dimensions (%s)", format)
	}
	return ""
}

// TooLargeMessage はサイズ上限を超えた画像に表示する文言を返す。
func TooLargeMessage(maxSize int64) string {
	return fmt.Sprintf("File size should be less than %s", humanSize(maxSize))
}

func humanSize(n int64) string {
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	if n >= 1024 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%d bytes", n)
}
