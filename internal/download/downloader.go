// Package download fetches workout videos referenced by job payloads.
// Videos arrive either as HTTP(S) URLs or as file:// paths already on the
// worker's filesystem.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// HTTPError is a non-2xx response from the video host.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ValidationError is a download rejected before or during transfer, such as
// a wrong content type or an oversized file. Validation errors are never
// retried.
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %s)", e.Field, e.Message, e.Value)
}

// Config holds downloader settings.
type Config struct {
	MaxRetries  int           // Default: 3
	RetryDelay  time.Duration // Default: 2s
	Timeout     time.Duration // Default: 5min
	MaxFileSize int64         // Default: 500MB
	TempDir     string        // Default: /tmp
}

// Downloader fetches videos with retry on transient failures. Content must
// be video/* (or untyped).
type Downloader struct {
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxFileSize int64
	tempDir     string
}

// NewDownloader creates a downloader, filling unset config fields with
// defaults.
func NewDownloader(cfg Config) *Downloader {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 500 * 1024 * 1024
	}
	if cfg.TempDir == "" {
		cfg.TempDir = "/tmp"
	}

	return &Downloader{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		maxFileSize: cfg.MaxFileSize,
		tempDir:     cfg.TempDir,
	}
}

// Fetch resolves a video URL to a local file path. file:// URLs and bare
// paths are returned as-is after an existence check; http(s) URLs are
// downloaded to the temp directory. The second return value reports whether
// the caller owns the file and should clean it up.
func (d *Downloader) Fetch(ctx context.Context, videoURL, jobID string) (string, bool, error) {
	if strings.HasPrefix(videoURL, "file://") || !strings.Contains(videoURL, "://") {
		path := strings.TrimPrefix(videoURL, "file://")
		if _, err := os.Stat(path); err != nil {
			return "", false, fmt.Errorf("local video %s: %w", path, err)
		}
		return path, false, nil
	}

	if _, err := url.ParseRequestURI(videoURL); err != nil {
		return "", false, &ValidationError{
			Field:   "videoUrl",
			Value:   videoURL,
			Message: "not a valid URL",
		}
	}

	path, err := d.download(ctx, videoURL, jobID)
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

// download runs the retry loop around single attempts.
func (d *Downloader) download(ctx context.Context, videoURL, jobID string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		path, err := d.attempt(ctx, videoURL, jobID)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if !retryable(err) {
			return "", fmt.Errorf("download failed (non-retryable): %w", err)
		}

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
	}

	return "", fmt.Errorf("download failed after %d attempts: %w", d.maxRetries, lastErr)
}

func (d *Downloader) attempt(ctx context.Context, videoURL, jobID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "FormCoach-Worker/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.Status),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "video/") &&
		contentType != "application/octet-stream" {
		return "", &ValidationError{
			Field:   "Content-Type",
			Value:   contentType,
			Message: "unsupported content type (expected video/*)",
		}
	}

	if resp.ContentLength > 0 && resp.ContentLength > d.maxFileSize {
		return "", &ValidationError{
			Field:   "Content-Length",
			Value:   fmt.Sprintf("%d bytes", resp.ContentLength),
			Message: fmt.Sprintf("file too large (max %d bytes)", d.maxFileSize),
		}
	}

	if err := os.MkdirAll(d.tempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	tempFile, err := os.CreateTemp(d.tempDir, fmt.Sprintf("formcoach-%s-*.mp4", jobID))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := d.copyWithLimit(tempFile, resp.Body); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", err
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return tempFile.Name(), nil
}

// copyWithLimit streams the body to disk, rejecting files over the size
// limit.
func (d *Downloader) copyWithLimit(dst io.Writer, src io.Reader) error {
	written, err := io.Copy(dst, io.LimitReader(src, d.maxFileSize+1))
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	if written > d.maxFileSize {
		return &ValidationError{
			Field:   "file_size",
			Value:   fmt.Sprintf("%d bytes", written),
			Message: fmt.Sprintf("file exceeded size limit (max %d bytes)", d.maxFileSize),
		}
	}
	return nil
}

// Cleanup removes a downloaded file. Files outside the temp directory are
// left alone.
func (d *Downloader) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(d.tempDir)) {
		return fmt.Errorf("refusing to delete file outside temp directory: %s", path)
	}
	return os.Remove(path)
}

func retryable(err error) bool {
	if _, ok := err.(*ValidationError); ok {
		return false
	}
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.StatusCode >= 500
	}
	return true
}
