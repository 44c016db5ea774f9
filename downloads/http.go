// Package downloads fetches model files and runtime archives, resuming
// partial downloads and retrying transient failures.
package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	// DefaultRetryAttempts is the number of times to retry a failed download.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the delay between retry attempts.
	DefaultRetryDelay = 5 * time.Second
)

// ProgressFunc is called once the response headers arrive with the total
// size in bytes (-1 if unknown) and the bytes already on disk. The returned
// writer receives every newly downloaded byte; nil disables reporting.
type ProgressFunc func(total, resumed int64) io.Writer

// Client performs downloads. The zero value uses http.DefaultClient with no
// retry delay.
type Client struct {
	HTTP       *http.Client
	Attempts   int
	RetryDelay time.Duration
}

// Default retries with the package defaults and never times out a transfer.
var Default = &Client{
	HTTP:       &http.Client{Timeout: 0},
	Attempts:   DefaultRetryAttempts,
	RetryDelay: DefaultRetryDelay,
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// File downloads url into destPath. An existing partial file is resumed
// with a Range request when the server supports it.
func (c *Client) File(ctx context.Context, destPath, url string, progress ProgressFunc) error {
	var existing int64
	if st, err := os.Stat(destPath); err == nil {
		existing = st.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if existing > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existing))
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	var out *os.File
	switch resp.StatusCode {
	case http.StatusOK:
		existing = 0
		out, err = os.Create(destPath)
	case http.StatusPartialContent:
		out, err = os.OpenFile(destPath, os.O_APPEND|os.O_WRONLY, 0o644)
	case http.StatusRequestedRangeNotSatisfiable:
		// already complete
		return nil
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer out.Close()

	total := resp.ContentLength
	if total > 0 {
		total += existing
	}
	var dst io.Writer = out
	if progress != nil {
		if w := progress(total, existing); w != nil {
			dst = io.MultiWriter(out, w)
		}
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read response: %w", err)
	}
	return out.Close()
}

// FileWithRetry calls File up to c.Attempts times. Cancellation is never
// retried.
func (c *Client) FileWithRetry(ctx context.Context, destPath, url string, progress ProgressFunc) error {
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.File(ctx, destPath, url, progress)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		if attempt < attempts && c.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.RetryDelay):
			}
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", attempts, lastErr)
}

// FormatBytes formats bytes as human-readable size.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
