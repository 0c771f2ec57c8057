// Package blob stores uploaded objects (order screenshots) in buckets on an
// afero filesystem and serves them back under a public URL.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

var (
	// ErrObjectExists is returned by Upload without Upsert when the path is taken.
	ErrObjectExists = errors.New("blob: object already exists")
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("blob: object not found")
	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("blob: invalid object path")
)

const metaSuffix = ".meta.json"

// UploadOptions mirror the object store's upload flags.
type UploadOptions struct {
	CacheControl string
	ContentType  string
	Upsert       bool
}

// Meta is what Open reports about a stored object.
type Meta struct {
	ContentType  string    `json:"content_type"`
	CacheControl string    `json:"cache_control"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Store keeps objects as files named <bucket>/<path> with a JSON metadata
// sidecar next to each one.
type Store struct {
	mu      sync.Mutex
	fs      afero.Fs
	baseURL string
	now     func() time.Time
}

// New returns a Store on fs whose public URLs start with baseURL.
func New(fs afero.Fs, baseURL string) *Store {
	return &Store{fs: fs, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// NewOS returns a Store rooted at a directory on disk.
func NewOS(root, baseURL string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), root), baseURL), nil
}

func objectName(bucket, p string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidPath, bucket)
	}
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, metaSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return path.Join(bucket, clean), nil
}

// Upload writes data to bucket/path. Without opts.Upsert an existing object
// is left alone and ErrObjectExists is returned.
func (s *Store) Upload(ctx context.Context, bucket, p string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := objectName(bucket, p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := afero.Exists(s.fs, name)
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	if exists && !opts.Upsert {
		return fmt.Errorf("%s: %w", name, ErrObjectExists)
	}
	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path.Dir(name), err)
	}
	if err := afero.WriteFile(s.fs, name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	meta, err := json.Marshal(Meta{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		Size:         int64(len(data)),
		UploadedAt:   s.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, name+metaSuffix, meta, 0o644); err != nil {
		_ = s.fs.Remove(name)
		return fmt.Errorf("write %s metadata: %w", name, err)
	}
	return nil
}

// PublicURL returns the address the object is served from.
func (s *Store) PublicURL(bucket, p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/storage/%s/%s", s.baseURL, url.PathEscape(bucket), strings.Join(segments, "/"))
}

// Open returns the object's content and metadata. The caller closes the reader.
func (s *Store) Open(bucket, p string) (io.ReadCloser, Meta, error) {
	name, err := objectName(bucket, p)
	if err != nil {
		return nil, Meta{}, err
	}
	f, err := s.fs.Open(name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, Meta{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, Meta{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Meta{}, err
	}
	if info.IsDir() {
		f.Close()
		return nil, Meta{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	meta := Meta{Size: info.Size(), UploadedAt: info.ModTime()}
	if raw, err := afero.ReadFile(s.fs, name+metaSuffix); err == nil {
		_ = json.Unmarshal(raw, &meta)
	}
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	return f, meta, nil
}
