package blob

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dmchat/internal/domain"
	"dmchat/internal/observability/metrics"
)

// DiskStore keeps uploads under a local directory that is served read-only
// under /uploads/.
type DiskStore struct {
	dir      string
	baseURL  string
	maxBytes int64
	now      func() time.Time
}

func NewDiskStore(dir, publicBaseURL string, maxBytes int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, baseURL: publicBaseURL, maxBytes: maxBytes, now: time.Now}, nil
}

func (d *DiskStore) Put(_ context.Context, obj Object) (domain.Attachment, error) {
	name, mimeType, body, err := prepare(obj, d.maxBytes)
	if err != nil {
		metrics.BlobUploadsTotal.WithLabelValues("disk", "rejected").Inc()
		return domain.Attachment{}, err
	}

	// the key already starts with "uploads/"
	key := objectKey(d.now().UTC(), name)
	rel := filepath.FromSlash(key[len("uploads/"):])
	full := filepath.Join(d.dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		metrics.BlobUploadsTotal.WithLabelValues("disk", "error").Inc()
		return domain.Attachment{}, fmt.Errorf("create upload subdir: %w", err)
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		metrics.BlobUploadsTotal.WithLabelValues("disk", "error").Inc()
		return domain.Attachment{}, fmt.Errorf("write upload: %w", err)
	}

	metrics.BlobUploadsTotal.WithLabelValues("disk", "ok").Inc()
	return domain.Attachment{
		Filename: name,
		URL:      d.baseURL + "/" + key,
		MimeType: mimeType,
		Size:     int64(len(body)),
	}, nil
}

// Handler serves stored files. Mount it at /uploads/.
func (d *DiskStore) Handler() http.Handler {
	files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
