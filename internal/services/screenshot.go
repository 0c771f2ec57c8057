package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cashback/internal/blob"
	"cashback/internal/validation"

	"github.com/gabriel-vasile/mimetype"
)

// ScreenshotBucket is the bucket order screenshots go to.
const ScreenshotBucket = "screenshots"

// ObjectStore is the blob storage the uploader writes to.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte, opts blob.UploadOptions) error
	PublicURL(bucket, path string) string
}

// ScreenshotUploader checks and stores order screenshots.
type ScreenshotUploader struct {
	blobs    ObjectStore
	maxBytes int64
	now      func() time.Time
}

// NewScreenshotUploader returns an uploader with the given size ceiling.
func NewScreenshotUploader(blobs ObjectStore, maxBytes int64) *ScreenshotUploader {
	return &ScreenshotUploader{blobs: blobs, maxBytes: maxBytes, now: time.Now}
}

// SetClock replaces the time source used in object names.
func (u *ScreenshotUploader) SetClock(now func() time.Time) { u.now = now }

// MaxBytes is the upload size ceiling.
func (u *ScreenshotUploader) MaxBytes() int64 {
	if u.maxBytes <= 0 {
		return validation.DefaultMaxScreenshotBytes
	}
	return u.maxBytes
}

// Upload sniffs the content type, checks it against the image allow-list
// and size ceiling, and stores it as screenshots/<phone>_<unix-ms>.<ext>.
// It returns the public URL.
func (u *ScreenshotUploader) Upload(ctx context.Context, phone string, data []byte) (string, error) {
	contentType := ""
	if len(data) > 0 {
		contentType = mimetype.Detect(data).String()
	}
	ext, err := validation.Screenshot(contentType, int64(len(data)), u.MaxBytes())
	if err != nil {
		return "", invalid(err)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}

	path := fmt.Sprintf("screenshots/%s_%d.%s", phone, u.now().UnixMilli(), ext)
	err = u.blobs.Upload(ctx, ScreenshotBucket, path, data, blob.UploadOptions{
		CacheControl: "3600",
		ContentType:  contentType,
		Upsert:       false,
	})
	if err != nil {
		return "", storageErr("upload screenshot", err)
	}
	return u.blobs.PublicURL(ScreenshotBucket, path), nil
}
