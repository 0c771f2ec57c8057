package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"cashback/internal/blob"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestScreenshotUploader(t *testing.T) {
	ctx := context.Background()
	blobs := blob.New(afero.NewMemMapFs(), "http://localhost:8080")
	up := NewScreenshotUploader(blobs, 64)
	at := time.UnixMilli(1761000000000)
	up.SetClock(func() time.Time { return at })

	url, err := up.Upload(ctx, "9876543210", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/storage/screenshots/screenshots/9876543210_1761000000000.png", url)

	_, meta, err := blobs.Open(ScreenshotBucket, "screenshots/9876543210_1761000000000.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, "3600", meta.CacheControl)

	t.Run("same name is not overwritten", func(t *testing.T) {
		_, err := up.Upload(ctx, "9876543210", pngHeader)
		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.ErrorIs(t, err, blob.ErrObjectExists)
	})

	t.Run("not an image", func(t *testing.T) {
		_, err := up.Upload(ctx, "9876543211", []byte("hello, this is plain text"))
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("too large", func(t *testing.T) {
		big := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)
		_, err := up.Upload(ctx, "9876543212", big)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := up.Upload(ctx, "9876543213", nil)
		assert.ErrorIs(t, err, ErrValidation)
	})
}
