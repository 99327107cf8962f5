// Package blob stores uploaded attachment bytes and returns the descriptor
// messages refer to.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"dmchat/internal/domain"
)

const DefaultMaxBytes = 50 << 20

var (
	ErrNotAllowed = fmt.Errorf("%w: only images, videos and documents are allowed", domain.ErrInvalidRequest)
	ErrTooLarge   = fmt.Errorf("%w: file too large", domain.ErrInvalidRequest)
)

type Object struct {
	Filename string
	MimeType string
	Size     int64 // -1 when unknown
	Body     io.Reader
}

type Store interface {
	Put(ctx context.Context, obj Object) (domain.Attachment, error)
}

var (
	imageExts = set("jpeg", "jpg", "png", "gif", "webp")
	videoExts = set("mp4", "webm", "mov", "avi", "mkv")
	docExts   = set("pdf", "doc", "docx", "txt", "rtf", "odt", "xls", "xlsx", "ppt", "pptx", "zip", "rar", "7z")

	docMimePrefixes = []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument",
		"text/",
		"application/zip",
		"application/x-rar-compressed",
	}
)

// Allowed reports whether a file with this name and declared MIME type is
// accepted as an attachment.
func Allowed(filename, mimeType string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	mt := strings.ToLower(mimeType)

	if imageExts[ext] && strings.HasPrefix(mt, "image/") {
		return true
	}
	if videoExts[ext] && strings.HasPrefix(mt, "video/") {
		return true
	}
	if docExts[ext] {
		return true
	}
	for _, p := range docMimePrefixes {
		if strings.HasPrefix(mt, p) {
			return true
		}
	}
	return false
}

// prepare validates obj and reads its body, enforcing maxBytes.
func prepare(obj Object, maxBytes int64) (name, mimeType string, body []byte, err error) {
	name = path.Base(filepath.ToSlash(strings.TrimSpace(obj.Filename)))
	if name == "" || name == "." || name == "/" {
		return "", "", nil, fmt.Errorf("%w: missing filename", domain.ErrInvalidRequest)
	}
	mimeType = obj.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	if !Allowed(name, mimeType) {
		return "", "", nil, ErrNotAllowed
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if obj.Size > maxBytes {
		return "", "", nil, ErrTooLarge
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(obj.Body, maxBytes+1))
	if err != nil {
		return "", "", nil, fmt.Errorf("read upload: %w", err)
	}
	if n > maxBytes {
		return "", "", nil, ErrTooLarge
	}
	return name, mimeType, buf.Bytes(), nil
}

// objectKey lays uploads out by day: uploads/2024/05/01/<uuid>.png
func objectKey(now time.Time, filename string) string {
	return fmt.Sprintf("uploads/%04d/%02d/%02d/%s%s",
		now.Year(), now.Month(), now.Day(), uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
