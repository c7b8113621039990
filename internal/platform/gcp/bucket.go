package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/podium-backend/internal/platform/ctxutil"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

// BucketService manages the bucket that user recordings are uploaded to.
type BucketService interface {
	UploadFile(ctx context.Context, key string, r io.Reader) error
	DeleteFile(ctx context.Context, key string) error
	GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error)
	GetPublicURL(key string) string
	// KeyFromURL maps a public, emulator or gs:// URL of this bucket back to its object key.
	KeyFromURL(rawURL string) (string, bool)
	GSURI(key string) string
	Bucket() string
}

type ObjectAttrs struct {
	Size        int64
	ContentType string
	Updated     time.Time
	ETag        string
}

type bucketService struct {
	log    *logger.Logger
	client *storage.Client
	http   *http.Client
	cfg    StorageConfig
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	cfg, err := StorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewBucketServiceWithConfig(log, cfg)
}

func NewBucketServiceWithConfig(log *logger.Logger, cfg StorageConfig) (BucketService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := newStorageClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	bs := &bucketService{
		log:    log.With("service", "BucketService"),
		client: client,
		http:   &http.Client{Timeout: 30 * time.Second},
		cfg:    cfg,
	}
	bs.log.Info("object storage initialized",
		"mode", cfg.Mode,
		"implicit_emulator", cfg.ImplicitEmulator,
		"bucket", cfg.Bucket,
		"cdn_domain", cfg.CDNDomain,
		"public_base_url", cfg.PublicBaseURL,
	)
	return bs, nil
}

func newStorageClient(ctx context.Context, cfg StorageConfig) (*storage.Client, error) {
	if cfg.IsEmulator() {
		_ = os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost)
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := append(ClientOptionsFromEnv(), option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func (bs *bucketService) Bucket() string { return bs.cfg.Bucket }

func (bs *bucketService) UploadFile(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 5*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.cfg.Bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object writer %q: %w", key, err)
	}
	return nil
}

func (bs *bucketService) DeleteFile(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 30*time.Second)
	defer cancel()
	if err := bs.client.Bucket(bs.cfg.Bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete object %q in bucket %q: %w", key, bs.cfg.Bucket, err)
	}
	return nil
}

// GetObjectAttrs reads object metadata. In emulator mode it talks to the JSON
// API directly since fake-gcs does not serve every field the client expects.
func (bs *bucketService) GetObjectAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 30*time.Second)
	defer cancel()

	if bs.cfg.IsEmulator() {
		return bs.emulatorAttrs(ctx, key)
	}
	attrs, err := bs.client.Bucket(bs.cfg.Bucket).Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch object attrs %q: %w", key, err)
	}
	return &ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
		ETag:        attrs.Etag,
	}, nil
}

func (bs *bucketService) emulatorAttrs(ctx context.Context, key string) (*ObjectAttrs, error) {
	metaURL := fmt.Sprintf("%s/storage/v1/b/%s/o/%s", bs.cfg.EmulatorHost, url.PathEscape(bs.cfg.Bucket), url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build emulator attrs request: %w", err)
	}
	resp, err := bs.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("emulator attrs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("emulator attrs failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Size        string `json:"size"`
		ContentType string `json:"contentType"`
		Updated     string `json:"updated"`
		ETag        string `json:"etag"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode emulator attrs: %w", err)
	}
	out := &ObjectAttrs{ContentType: payload.ContentType, ETag: payload.ETag}
	out.Size, _ = strconv.ParseInt(strings.TrimSpace(payload.Size), 10, 64)
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(payload.Updated)); err == nil {
		out.Updated = ts
	}
	return out, nil
}

func (bs *bucketService) GetPublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	switch {
	case bs.cfg.CDNDomain != "":
		return fmt.Sprintf("https://%s/%s", bs.cfg.CDNDomain, key)
	case bs.cfg.IsEmulator():
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", bs.emulatorPublicBase(), url.PathEscape(bs.cfg.Bucket), url.PathEscape(key))
	case bs.cfg.PublicBaseURL != "":
		return fmt.Sprintf("%s/%s/%s", bs.cfg.PublicBaseURL, bs.cfg.Bucket, key)
	default:
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.cfg.Bucket, key)
	}
}

func (bs *bucketService) emulatorPublicBase() string {
	if bs.cfg.PublicBaseURL != "" {
		return bs.cfg.PublicBaseURL
	}
	return bs.cfg.EmulatorHost
}

func (bs *bucketService) GSURI(key string) string {
	return fmt.Sprintf("gs://%s/%s", bs.cfg.Bucket, strings.TrimLeft(key, "/"))
}

func (bs *bucketService) KeyFromURL(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme == "gs" {
		if u.Host != bs.cfg.Bucket {
			return "", false
		}
		return nonEmptyKey(strings.TrimLeft(u.Path, "/"))
	}

	if bs.cfg.CDNDomain != "" && strings.EqualFold(u.Host, bs.cfg.CDNDomain) {
		return nonEmptyKey(strings.TrimLeft(u.Path, "/"))
	}

	// Emulator media links carry the key as one escaped path segment.
	emulatorPrefix := "/storage/v1/b/" + bs.cfg.Bucket + "/o/"
	if bs.cfg.IsEmulator() && sameOrigin(u, bs.emulatorPublicBase()) && strings.HasPrefix(u.Path, emulatorPrefix) {
		return nonEmptyKey(strings.TrimPrefix(u.Path, emulatorPrefix))
	}

	bucketPrefix := "/" + bs.cfg.Bucket + "/"
	if !strings.HasPrefix(u.Path, bucketPrefix) {
		return "", false
	}
	if (bs.cfg.PublicBaseURL != "" && sameOrigin(u, bs.cfg.PublicBaseURL)) || strings.EqualFold(u.Host, "storage.googleapis.com") {
		return nonEmptyKey(strings.TrimPrefix(u.Path, bucketPrefix))
	}
	return "", false
}

func sameOrigin(u *url.URL, base string) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, b.Scheme) && strings.EqualFold(u.Host, b.Host)
}

func nonEmptyKey(k string) (string, bool) {
	if k == "" {
		return "", false
	}
	return k, true
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".mp3"), strings.HasSuffix(s, ".mpga"), strings.HasSuffix(s, ".mpeg"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(s, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(s, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(s, ".ogg"), strings.HasSuffix(s, ".opus"):
		return "audio/ogg"
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".webm"):
		return "video/webm"
	case strings.HasSuffix(s, ".mov"):
		return "video/quicktime"
	default:
		return ""
	}
}
