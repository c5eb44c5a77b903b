// Package rest implements the remote backend client over a hosted
// PostgREST-style API with a companion object storage service.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/platesync/core/internal/platerr"
	platesync "github.com/platesync/core/internal/sync"
)

// Config holds remote backend connection configuration.
type Config struct {
	BaseURL    string        // service root, e.g. https://abc.supabase.co
	APIKey     string        // service key sent as apikey + bearer token
	Timeout    time.Duration // per-request timeout (default 30s)
	MaxRetries uint64        // transient-failure retries per operation (default 3)
}

// Client talks to the hosted backend. Transient failures (network errors,
// 5xx, 429) are retried with exponential backoff; client errors are
// permanent and fail immediately.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new remote backend client.
func NewClient(config *Config, logger *zap.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: logger.Named("rest"),
	}
}

// Ensure Client satisfies the coordinator's remote surface.
var _ platesync.RemoteClient = (*Client)(nil)

// InsertRecord writes one row into a remote table.
func (c *Client) InsertRecord(ctx context.Context, table string, row map[string]any) error {
	body, err := sonic.Marshal(row)
	if err != nil {
		return platerr.Wrap(platerr.CodeRemoteError, "failed to encode record", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/rest/v1/%s", c.config.BaseURL, url.PathEscape(table)),
			bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authorize(req)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("insert request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return statusError("insert", resp)
		}
		return nil
	}

	if err := c.withRetry(ctx, op); err != nil {
		return platerr.Wrap(platerr.CodeRemoteError,
			fmt.Sprintf("failed to insert into %s", table), err)
	}
	return nil
}

// UpdateRecord patches rows matching the filter columns.
func (c *Client) UpdateRecord(ctx context.Context, table string, filter map[string]string, patch map[string]any) error {
	body, err := sonic.Marshal(patch)
	if err != nil {
		return platerr.Wrap(platerr.CodeRemoteError, "failed to encode patch", err)
	}

	query := url.Values{}
	for column, value := range filter {
		query.Set(column, "eq."+value)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
			fmt.Sprintf("%s/rest/v1/%s?%s", c.config.BaseURL, url.PathEscape(table), query.Encode()),
			bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authorize(req)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("update request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return statusError("update", resp)
		}
		return nil
	}

	if err := c.withRetry(ctx, op); err != nil {
		return platerr.Wrap(platerr.CodeRemoteError,
			fmt.Sprintf("failed to update %s", table), err)
	}
	return nil
}

// UploadBlob stores binary data under bucket/path.
func (c *Client) UploadBlob(ctx context.Context, bucket, path string, data []byte, contentType string) (platesync.BlobHandle, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/storage/v1/object/%s/%s", c.config.BaseURL,
				url.PathEscape(bucket), escapePath(path)),
			bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authorize(req)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("upload request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return statusError("upload", resp)
		}
		return nil
	}

	if err := c.withRetry(ctx, op); err != nil {
		return platesync.BlobHandle{}, platerr.Wrap(platerr.CodeRemoteError,
			fmt.Sprintf("failed to upload %s/%s", bucket, path), err)
	}

	c.logger.Debug("blob uploaded",
		zap.String("bucket", bucket),
		zap.String("path", path),
		zap.Int("bytes", len(data)))
	return platesync.BlobHandle{Bucket: bucket, Path: path}, nil
}

// CreateSignedURL mints a time-limited download link for an uploaded blob.
func (c *Client) CreateSignedURL(ctx context.Context, handle platesync.BlobHandle, ttl time.Duration) (string, error) {
	body, err := sonic.Marshal(map[string]any{"expiresIn": int(ttl.Seconds())})
	if err != nil {
		return "", platerr.Wrap(platerr.CodeRemoteError, "failed to encode sign request", err)
	}

	var signedPath string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", c.config.BaseURL,
				url.PathEscape(handle.Bucket), escapePath(handle.Path)),
			bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		c.authorize(req)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sign request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return statusError("sign", resp)
		}

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read sign response: %w", err)
		}
		var parsed struct {
			SignedURL string `json:"signedURL"`
		}
		if err := sonic.Unmarshal(payload, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("malformed sign response: %w", err))
		}
		signedPath = parsed.SignedURL
		return nil
	}

	if err := c.withRetry(ctx, op); err != nil {
		return "", platerr.Wrap(platerr.CodeRemoteError,
			fmt.Sprintf("failed to sign %s/%s", handle.Bucket, handle.Path), err)
	}

	// The service returns a path relative to the storage root.
	return c.config.BaseURL + "/storage/v1" + signedPath, nil
}

// TestConnection checks whether the backend is reachable. It is wired into
// the connectivity monitor as its probe, so it must not retry internally.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.config.BaseURL+"/rest/v1/", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reachability check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Auth and routing errors still prove the service answered.
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
}

// withRetry runs op with exponential backoff on transient failures.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(3*time.Second),
	)
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.config.MaxRetries), ctx))
}

// statusError converts a non-2xx response into an error. Client errors are
// permanent since retrying the same payload cannot change the outcome;
// timeouts and throttling stay retryable.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("%s failed with status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))

	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return err
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(err)
	}
	return err
}

// escapePath escapes each segment of a storage path, keeping the slashes.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
