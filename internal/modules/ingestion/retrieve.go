package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yungbote/podium-backend/internal/platform/ctxutil"
	"github.com/yungbote/podium-backend/internal/platform/gcp"
	"github.com/yungbote/podium-backend/internal/platform/httpx"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/scratch"
)

// ObjectStore is the slice of the bucket service retrieval needs.
type ObjectStore interface {
	KeyFromURL(rawURL string) (string, bool)
	GetObjectAttrs(ctx context.Context, key string) (*gcp.ObjectAttrs, error)
	DeleteFile(ctx context.Context, key string) error
}

type RetrieverConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		RequestTimeout: 10 * time.Minute,
	}
}

type Retriever struct {
	log     *logger.Logger
	store   ObjectStore
	client  *http.Client
	scratch *scratch.Manager
	cfg     RetrieverConfig
}

// NewRetriever builds a Retriever. store may be nil, which skips the
// existence check.
func NewRetriever(log *logger.Logger, store ObjectStore, sm *scratch.Manager, cfg RetrieverConfig) *Retriever {
	d := DefaultRetrieverConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = d.InitialBackoff
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	return &Retriever{
		log:     log.With("service", "Retriever"),
		store:   store,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		scratch: sm,
		cfg:     cfg,
	}
}

// Retrieve downloads rawURL into a new scratch file and returns its path.
// The caller owns the file.
func (r *Retriever) Retrieve(ctx context.Context, rawURL, declaredName string) (string, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(rawURL) == "" {
		return "", fmt.Errorf("source url required")
	}
	if err := r.checkExists(ctx, rawURL); err != nil {
		return "", err
	}

	dest := r.scratch.NewPath(sourceExt(rawURL, declaredName))
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := httpx.Backoff(r.cfg.InitialBackoff, attempt-1, 0)
			r.log.Warn("download failed, retrying",
				"attempt", attempt,
				"status", lastStatus,
				"error", lastErr,
				"backoff_ms", wait.Milliseconds(),
			)
			if err := httpx.Sleep(ctx, wait); err != nil {
				return "", err
			}
		}

		status, n, err := r.fetch(ctx, rawURL, dest)
		if err == nil {
			r.log.Info("source downloaded", "name", declaredName, "size", humanize.Bytes(uint64(n)), "attempts", attempt+1)
			return dest, nil
		}
		_ = scratch.Remove(dest)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastStatus, lastErr = status, err
	}
	return "", &DownloadError{URL: rawURL, Attempts: r.cfg.MaxAttempts, LastStatus: lastStatus, Err: lastErr}
}

// checkExists asks the storage metadata API, not the CDN, whether the object
// is there. URLs outside the managed bucket are not checked.
func (r *Retriever) checkExists(ctx context.Context, rawURL string) error {
	if r.store == nil {
		return nil
	}
	key, ok := r.store.KeyFromURL(rawURL)
	if !ok {
		r.log.Debug("source url not in managed bucket, skipping existence check", "url", rawURL)
		return nil
	}
	attrs, err := r.store.GetObjectAttrs(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSourceNotFound, key, err)
	}
	r.log.Debug("source object found", "key", key, "size", humanize.Bytes(uint64(attrs.Size)), "content_type", attrs.ContentType)
	return nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string       { return fmt.Sprintf("http %d: %s", e.status, e.body) }
func (e *statusError) HTTPStatusCode() int { return e.status }

func (r *Retriever) fetch(ctx context.Context, rawURL, dest string) (int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if !httpx.IsSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, 0, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	f, err := os.Create(dest)
	if err != nil {
		return resp.StatusCode, 0, fmt.Errorf("create scratch file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return resp.StatusCode, n, fmt.Errorf("write scratch file: %w", err)
	}
	return resp.StatusCode, n, nil
}

// DeleteSource removes the source object from storage. Failures are logged only.
func (r *Retriever) DeleteSource(ctx context.Context, rawURL string) {
	if r.store == nil {
		return
	}
	key, ok := r.store.KeyFromURL(rawURL)
	if !ok {
		return
	}
	if err := r.store.DeleteFile(ctxutil.Default(ctx), key); err != nil {
		r.log.Warn("delete source object failed", "key", key, "error", err)
		return
	}
	r.log.Info("source object deleted", "key", key)
}

func sourceExt(rawURL, declaredName string) string {
	if ext := filepath.Ext(strings.TrimSpace(declaredName)); ext != "" {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		return path.Ext(u.Path)
	}
	return ""
}
