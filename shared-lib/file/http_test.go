package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveImage(t *testing.T, image []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Content-Length", strconv.Itoa(len(image)))
		w.Write(image)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sha256Of(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func TestDownloadFile(t *testing.T) {
	image := []byte("firmware image v2")
	srv := serveImage(t, image)
	target := filepath.Join(t.TempDir(), "images", "v2.bin")

	result, err := DownloadFile(context.Background(), srv.URL+"/v2.bin", &DownloadOptions{
		OutputPath: target,
		CreateDirs: true,
	})
	require.NoError(t, err)
	assert.Equal(t, target, result.FilePath)
	assert.Equal(t, int64(len(image)), result.Size)
	assert.Equal(t, sha256Of(image), result.Digest)
	assert.Equal(t, "application/octet-stream", result.ContentType)
	assert.Equal(t, `"v2"`, result.ETag)
	assert.Equal(t, http.StatusOK, result.StatusCode)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, image, content)
	assert.NoFileExists(t, target+partialSuffix)
}

func TestDownloadFileRequiresOutputPath(t *testing.T) {
	_, err := DownloadFile(context.Background(), "http://localhost/x", nil)
	assert.EqualError(t, err, "output path is required")
	_, err = DownloadFile(context.Background(), "http://localhost/x", &DownloadOptions{})
	assert.Error(t, err)
}

func TestDownloadFileStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	target := filepath.Join(t.TempDir(), "v2.bin")

	_, err := DownloadFile(context.Background(), srv.URL, &DownloadOptions{OutputPath: target})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "unexpected HTTP status 404 Not Found", err.Error())
	assert.NoFileExists(t, target)
}

func TestDownloadFileSizeLimit(t *testing.T) {
	image := bytes.Repeat([]byte{0xAB}, 2048)

	tests := []struct {
		name     string
		announce bool
	}{
		{"content length over limit", true},
		{"chunked body over limit", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.announce {
					w.Header().Set("Content-Length", strconv.Itoa(len(image)))
				} else {
					w.(http.Flusher).Flush()
				}
				w.Write(image)
			}))
			defer srv.Close()
			target := filepath.Join(t.TempDir(), "big.bin")

			_, err := DownloadFile(context.Background(), srv.URL, &DownloadOptions{OutputPath: target, MaxFileSize: 1024})
			assert.ErrorIs(t, err, ErrTooLarge)
			assert.NoFileExists(t, target)
			assert.NoFileExists(t, target+partialSuffix)
		})
	}

	srv := serveImage(t, image)
	result, err := DownloadFile(context.Background(), srv.URL, &DownloadOptions{
		OutputPath:  filepath.Join(t.TempDir(), "exact.bin"),
		MaxFileSize: int64(len(image)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(image)), result.Size)
}

func TestDownloadFileKeepsExisting(t *testing.T) {
	srv := serveImage(t, []byte("new"))
	target := filepath.Join(t.TempDir(), "v2.bin")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	_, err := DownloadFile(context.Background(), srv.URL, &DownloadOptions{OutputPath: target})
	assert.ErrorContains(t, err, "already exists")

	_, err = DownloadFile(context.Background(), srv.URL, &DownloadOptions{OutputPath: target, OverwriteExist: true})
	require.NoError(t, err)
	content, _ := os.ReadFile(target)
	assert.Equal(t, "new", string(content))
}

func TestDownloadFileProgress(t *testing.T) {
	image := bytes.Repeat([]byte{1}, 3*progressChunkBytes+10)
	srv := serveImage(t, image)

	var calls []int64
	_, err := DownloadFile(context.Background(), srv.URL, &DownloadOptions{
		OutputPath: filepath.Join(t.TempDir(), "v2.bin"),
		ProgressCallback: func(downloaded, total int64) {
			calls = append(calls, downloaded)
			assert.Equal(t, int64(len(image)), total)
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, calls)
	assert.LessOrEqual(t, len(calls), 4)
	assert.Equal(t, int64(len(image)), calls[len(calls)-1])
}

func TestDownloadFileHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := DownloadFile(context.Background(), srv.URL, &DownloadOptions{
		OutputPath: filepath.Join(t.TempDir(), "v2.bin"),
		Headers:    map[string]string{"Authorization": "Bearer abc", "User-Agent": "agent/2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got.Get("Authorization"))
	assert.Equal(t, "agent/2", got.Get("User-Agent"))
	assert.Equal(t, "identity", got.Get("Accept-Encoding"))
}

func TestDownloadFileCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := DownloadFile(ctx, srv.URL, &DownloadOptions{OutputPath: filepath.Join(t.TempDir(), "v2.bin")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
