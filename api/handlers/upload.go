package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ellipog/chat/api"
	"github.com/Ellipog/chat/store"
	"github.com/Ellipog/chat/types"
)

// =============================================================================
// 📎 附件上传
// =============================================================================

// multipartMemory 超过该大小的文件部分暂存到磁盘
const multipartMemory = 8 << 20

// BlobStore 保存上传文件并返回可访问的 URL
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) (url string, err error)
}

// LocalBlobStore 将文件写入本地目录，URL 由 baseURL 与 key 拼接
type LocalBlobStore struct {
	dir     string
	baseURL string
}

// NewLocalBlobStore 创建本地存储；dir 不存在时自动创建
func NewLocalBlobStore(dir, baseURL string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalBlobStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalBlobStore) Put(ctx context.Context, key, _ string, body io.Reader) (string, error) {
	clean := path.Clean("/" + key)
	dst := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, readerWithContext(ctx, body)); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return s.baseURL + clean, nil
}

// inlineTypes 可由浏览器直接展示的类型，其余一律按附件下载
var inlineTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
	"text/plain":      true,
}

// Handler 返回上传目录的只读文件服务。
// 非白名单类型强制 application/octet-stream 并以附件下载，所有响应带
// CSP sandbox；不提供目录列表
func (s *LocalBlobStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}

		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "sandbox")

		ctype := mime.TypeByExtension(path.Ext(r.URL.Path))
		if mt, _, err := mime.ParseMediaType(ctype); err == nil && inlineTypes[mt] {
			h.Set("Content-Type", ctype)
		} else {
			h.Set("Content-Type", "application/octet-stream")
			h.Set("Content-Disposition", "attachment")
		}
		files.ServeHTTP(w, r)
	})
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}

// UploadHandler 处理 multipart 附件上传
type UploadHandler struct {
	blobs    BlobStore
	maxBytes int64
	logger   *zap.Logger
}

// NewUploadHandler 创建上传处理器；maxBytes 限制整个请求体
func NewUploadHandler(blobs BlobStore, maxBytes int64, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{blobs: blobs, maxBytes: maxBytes, logger: logger.With(zap.String("component", "upload_handler"))}
}

// HandleUpload 处理 POST /api/chat/upload，表单字段 files 可重复
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	uid, ok := currentUser(w, r, h.logger)
	if !ok {
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "Invalid multipart form").WithCause(err)
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			apiErr = types.NewError(types.ErrInvalidRequest, "Upload too large").
				WithCause(err).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, apiErr, h.logger)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "No files provided"), h.logger)
		return
	}

	attachments := make([]store.Attachment, len(files))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(4)
	for i, fh := range files {
		g.Go(func() error {
			att, err := h.save(ctx, uid, fh)
			if err != nil {
				return fmt.Errorf("%s: %w", fh.Filename, err)
			}
			attachments[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "Failed to upload files").WithCause(err), h.logger)
		return
	}

	h.logger.Info("files uploaded", zap.String("user_id", uid), zap.Int("count", len(attachments)))
	WriteSuccess(w, api.UploadResponse{Attachments: attachments})
}

func (h *UploadHandler) save(ctx context.Context, userID string, fh *multipart.FileHeader) (store.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return store.Attachment{}, err
	}
	defer f.Close()

	id := uuid.NewString()
	key := "uploads/" + userID + "/" + id
	if ext := fileExt(fh.Filename); ext != "" {
		key += "." + ext
	}
	contentType := detectContentType(fh)

	url, err := h.blobs.Put(ctx, key, contentType, f)
	if err != nil {
		return store.Attachment{}, err
	}
	return store.Attachment{
		ID:          id,
		Filename:    fh.Filename,
		ContentType: contentType,
		URL:         url,
		Size:        fh.Size,
	}, nil
}

// fileExt 返回小写扩展名，只保留字母与数字
func fileExt(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, ext)
}

func detectContentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(filepath.Ext(fh.Filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
