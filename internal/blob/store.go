// Package blob は記事画像をオブジェクトストアに保存し、公開URLを払い出す。
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrObjectExists は同名のオブジェクトが既に存在することを表す。
var ErrObjectExists = errors.New("object already exists")

// Store はバケット単位のオブジェクトストアのインターフェース。
type Store interface {
	// Upload はobjectNameでデータを保存し、バケット内のパスを返す。
	// 既存のオブジェクトは上書きせずErrObjectExistsを返す。
	Upload(ctx context.Context, objectName string, r io.Reader) (string, error)
	// PublicURL はパスに対応する公開URLを返す。
	PublicURL(path string) string
}

// FileStore はローカルディスク上のディレクトリをバケットとして扱うStore。
// <root>/<bucket>/<object> に保存し、<publicBase>/<bucket>/<object> で公開する。
type FileStore struct {
	root       string
	bucket     string
	publicBase string
}

// NewFileStore はFileStoreを生成する。バケットディレクトリが無ければ作成する。
func NewFileStore(root, bucket, publicBase string) (*FileStore, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return nil, fmt.Errorf("invalid bucket name: %q", bucket)
	}
	dir := filepath.Join(root, bucket)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory %s: %w", dir, err)
	}
	return &FileStore{
		root:       root,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// Root はバケットを含むルートディレクトリを返す。/media の配信に使う。
func (s *FileStore) Root() string {
	return s.root
}

// Bucket はバケット名を返す。
func (s *FileStore) Bucket() string {
	return s.bucket
}

// Upload はデータを一時ファイルに書き込み、fsync後に最終パスへリンクする。
// リンクは既存ファイルがある場合に失敗するため、同名オブジェクトを上書きしない。
func (s *FileStore) Upload(ctx context.Context, objectName string, r io.Reader) (string, error) {
	if err := validateObjectName(objectName); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, s.bucket)
	fullPath := filepath.Join(dir, objectName)

	f, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to fsync object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return "", fmt.Errorf("failed to chmod object: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Link(tmpPath, fullPath); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrObjectExists, objectName)
		}
		return "", fmt.Errorf("failed to publish object: %w", err)
	}

	return objectName, nil
}

// PublicURL はパスに対応する公開URLを返す。
func (s *FileStore) PublicURL(path string) string {
	return s.publicBase + "/" + url.PathEscape(s.bucket) + "/" + url.PathEscape(path)
}

func validateObjectName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid object name: %q", name)
	}
	return nil
}

// compile-time interface check
var _ Store = (*FileStore)(nil)
