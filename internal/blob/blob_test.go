package blob

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs(), "http://localhost:8080/")
	opts := UploadOptions{CacheControl: "3600", ContentType: "image/png"}

	require.NoError(t, s.Upload(ctx, "screenshots", "screenshots/9876543210_1.png", []byte("first"), opts))

	t.Run("no overwrite without upsert", func(t *testing.T) {
		err := s.Upload(ctx, "screenshots", "screenshots/9876543210_1.png", []byte("second"), opts)
		assert.ErrorIs(t, err, ErrObjectExists)
	})

	t.Run("open returns content and metadata", func(t *testing.T) {
		rc, meta, err := s.Open("screenshots", "screenshots/9876543210_1.png")
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "first", string(body))
		assert.Equal(t, "image/png", meta.ContentType)
		assert.Equal(t, "3600", meta.CacheControl)
		assert.Equal(t, int64(5), meta.Size)
	})

	t.Run("upsert replaces", func(t *testing.T) {
		opts := opts
		opts.Upsert = true
		require.NoError(t, s.Upload(ctx, "screenshots", "screenshots/9876543210_1.png", []byte("second"), opts))
		rc, _, err := s.Open("screenshots", "screenshots/9876543210_1.png")
		require.NoError(t, err)
		defer rc.Close()
		body, _ := io.ReadAll(rc)
		assert.Equal(t, "second", string(body))
	})

	t.Run("missing object", func(t *testing.T) {
		_, _, err := s.Open("screenshots", "screenshots/nope.png")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInvalidPaths(t *testing.T) {
	ctx := context.Background()
	s := New(afero.NewMemMapFs(), "")
	for _, tc := range []struct{ bucket, path string }{
		{"", "a.png"},
		{"screenshots", ""},
		{"screenshots", "../etc/passwd"},
		{"screenshots", "/abs.png"},
		{"a/b", "x.png"},
		{"screenshots", "x.png.meta.json"},
	} {
		err := s.Upload(ctx, tc.bucket, tc.path, []byte("x"), UploadOptions{})
		assert.ErrorIs(t, err, ErrInvalidPath, "%s/%s", tc.bucket, tc.path)
	}
}

func TestPublicURL(t *testing.T) {
	s := New(afero.NewMemMapFs(), "https://cashvertz.example/")
	assert.Equal(t,
		"https://cashvertz.example/storage/screenshots/screenshots/9876543210_1.png",
		s.PublicURL("screenshots", "screenshots/9876543210_1.png"))
	assert.Equal(t,
		"https://cashvertz.example/storage/screenshots/a%20b.png",
		s.PublicURL("screenshots", "a b.png"))
}
