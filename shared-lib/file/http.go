// Package file fetches firmware images and other artefacts over HTTP.
package file

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultTimeout     = 30 * time.Second
	partialSuffix      = ".part"
	progressChunkBytes = 64 * 1024
)

// ErrTooLarge is returned when the body is bigger than MaxFileSize.
var ErrTooLarge = errors.New("file exceeds the maximum size")

// DownloadOptions configure DownloadFile. The zero value downloads with
// DefaultTimeout and no size limit.
type DownloadOptions struct {
	OutputPath string
	// CreateDirs creates the parent directory of OutputPath.
	CreateDirs bool
	// OverwriteExist replaces an existing file at OutputPath.
	OverwriteExist bool
	// MaxFileSize of 0 means no limit.
	MaxFileSize      int64
	Timeout          time.Duration
	Headers          map[string]string
	ProgressCallback func(downloaded, total int64)
	TLS              *tls.Config
}

// DownloadResult describes a completed download.
type DownloadResult struct {
	FilePath    string
	Size        int64
	Digest      string
	ContentType string
	ETag        string
	StatusCode  int
}

// StatusError is returned when the server answers with a non 2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// DownloadFile GETs url into options.OutputPath. The body is written to a
// sibling .part file and renamed into place only once it is complete, so a
// failed download never leaves a truncated file at OutputPath.
func DownloadFile(ctx context.Context, url string, options *DownloadOptions) (*DownloadResult, error) {
	if options == nil || options.OutputPath == "" {
		return nil, errors.New("output path is required")
	}
	target := options.OutputPath

	if !options.OverwriteExist {
		if _, err := os.Stat(target); err == nil {
			return nil, fmt.Errorf("file already exists: %s", target)
		}
	}
	if options.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", target, err)
		}
	}

	resp, err := get(ctx, url, options)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	if options.MaxFileSize > 0 && resp.ContentLength > options.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes announced, limit is %d", ErrTooLarge, resp.ContentLength, options.MaxFileSize)
	}

	partial := target + partialSuffix
	size, digest, err := writeBody(partial, resp, options)
	if err != nil {
		os.Remove(partial)
		return nil, err
	}
	if err := os.Rename(partial, target); err != nil {
		os.Remove(partial)
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}

	return &DownloadResult{
		FilePath:    target,
		Size:        size,
		Digest:      digest,
		ContentType: resp.Header.Get("Content-Type"),
		ETag:        resp.Header.Get("ETag"),
		StatusCode:  resp.StatusCode,
	}, nil
}

func get(ctx context.Context, url string, options *DownloadOptions) (*http.Response, error) {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}
	if options.TLS != nil {
		client.Transport = &http.Transport{TLSClientConfig: options.TLS}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream, */*")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("User-Agent", "wiotp-client/1.0")
	for key, value := range options.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	return resp, nil
}

// writeBody streams the response into path and returns its size and
// sha256 digest.
func writeBody(path string, resp *http.Response, options *DownloadOptions) (int64, string, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()

	hasher := sha256.New()
	var body io.Reader = resp.Body
	if options.MaxFileSize > 0 {
		// one extra byte tells an oversized body from one exactly at the limit
		body = io.LimitReader(resp.Body, options.MaxFileSize+1)
	}
	if options.ProgressCallback != nil {
		body = &progressReader{reader: body, total: resp.ContentLength, callback: options.ProgressCallback}
	}

	written, err := io.Copy(io.MultiWriter(out, hasher), body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read body: %w", err)
	}
	if options.MaxFileSize > 0 && written > options.MaxFileSize {
		return 0, "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, options.MaxFileSize)
	}
	if err := out.Sync(); err != nil {
		return 0, "", fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return written, "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

// progressReader reports at most once per progressChunkBytes, and once more
// at EOF.
type progressReader struct {
	reader   io.Reader
	total    int64
	current  int64
	reported int64
	callback func(downloaded, total int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	if pr.current-pr.reported >= progressChunkBytes || (err == io.EOF && pr.current != pr.reported) {
		pr.reported = pr.current
		pr.callback(pr.current, pr.total)
	}
	return n, err
}
