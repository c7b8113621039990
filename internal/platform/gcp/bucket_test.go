package gcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/yungbote/podium-backend/internal/platform/logger"
)

func TestStorageConfigFromEnv(t *testing.T) {
	t.Setenv("OBJECT_STORAGE_MODE", "")
	t.Setenv("STORAGE_EMULATOR_HOST", "http://fake-gcs:4443/")
	t.Setenv("UPLOADS_GCS_BUCKET_NAME", "uploads")
	t.Setenv("UPLOADS_CDN_DOMAIN", "")
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "")

	cfg, err := StorageConfigFromEnv()
	if err != nil {
		t.Fatalf("StorageConfigFromEnv: %v", err)
	}
	if cfg.Mode != StorageModeEmulator || !cfg.ImplicitEmulator || cfg.EmulatorHost != "http://fake-gcs:4443" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}

	t.Setenv("OBJECT_STORAGE_MODE", "s3")
	var cerr *StorageConfigError
	if _, err := StorageConfigFromEnv(); !errors.As(err, &cerr) || cerr.Var != "OBJECT_STORAGE_MODE" {
		t.Fatalf("want mode error got=%v", err)
	}

	t.Setenv("OBJECT_STORAGE_MODE", "gcs")
	t.Setenv("UPLOADS_GCS_BUCKET_NAME", "")
	if _, err := StorageConfigFromEnv(); !errors.As(err, &cerr) || cerr.Var != "UPLOADS_GCS_BUCKET_NAME" {
		t.Fatalf("want bucket error got=%v", err)
	}

	t.Setenv("UPLOADS_GCS_BUCKET_NAME", "uploads")
	t.Setenv("OBJECT_STORAGE_PUBLIC_BASE_URL", "localhost:4443")
	if _, err := StorageConfigFromEnv(); !errors.As(err, &cerr) || cerr.Var != "OBJECT_STORAGE_PUBLIC_BASE_URL" {
		t.Fatalf("want base url error got=%v", err)
	}
}

func TestPublicURLRoundTrip(t *testing.T) {
	key := "users/u1/talk_01.mp3"
	cases := []struct {
		name string
		cfg  StorageConfig
		want string
	}{
		{"gcs default", StorageConfig{Mode: StorageModeGCS, Bucket: "uploads"}, "https://storage.googleapis.com/uploads/users/u1/talk_01.mp3"},
		{"cdn", StorageConfig{Mode: StorageModeGCS, Bucket: "uploads", CDNDomain: "cdn.podium.app"}, "https://cdn.podium.app/users/u1/talk_01.mp3"},
		{"public base", StorageConfig{Mode: StorageModeGCS, Bucket: "uploads", PublicBaseURL: "http://localhost:9000"}, "http://localhost:9000/uploads/users/u1/talk_01.mp3"},
		{"emulator", StorageConfig{Mode: StorageModeEmulator, Bucket: "uploads", EmulatorHost: "http://fake-gcs:4443"}, "http://fake-gcs:4443/storage/v1/b/uploads/o/users%2Fu1%2Ftalk_01.mp3?alt=media"},
	}
	for _, c := range cases {
		bs := &bucketService{cfg: c.cfg}
		got := bs.GetPublicURL(key)
		if got != c.want {
			t.Fatalf("%s GetPublicURL: want=%q got=%q", c.name, c.want, got)
		}
		back, ok := bs.KeyFromURL(got)
		if !ok || back != key {
			t.Fatalf("%s KeyFromURL(%q): want=%q got=%q ok=%v", c.name, got, key, back, ok)
		}
	}
}

func TestKeyFromURLRejectsForeignURLs(t *testing.T) {
	bs := &bucketService{cfg: StorageConfig{Mode: StorageModeGCS, Bucket: "uploads", CDNDomain: "cdn.podium.app"}}
	for _, raw := range []string{
		"https://example.com/uploads/a.mp3",
		"https://storage.googleapis.com/other-bucket/a.mp3",
		"gs://other-bucket/a.mp3",
		"https://cdn.podium.app/",
		"not a url",
	} {
		if k, ok := bs.KeyFromURL(raw); ok {
			t.Fatalf("KeyFromURL(%q) should not match, got %q", raw, k)
		}
	}
	if k, ok := bs.KeyFromURL("gs://uploads/a/b.wav"); !ok || k != "a/b.wav" {
		t.Fatalf("gs uri: got=%q ok=%v", k, ok)
	}
	if got := bs.GSURI("/a/b.wav"); got != "gs://uploads/a/b.wav" {
		t.Fatalf("GSURI: %q", got)
	}
}

func TestEmulatorObjectAttrs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/storage/v1/b/uploads/o/users%2Fu1%2Ftalk.mp3":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"size":"2048","contentType":"audio/mpeg","updated":"2026-03-01T10:00:00Z","etag":"abc"}`))
		default:
			http.Error(w, `{"error":{"code":404}}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()
	t.Setenv("STORAGE_EMULATOR_HOST", srv.URL)

	bs, err := NewBucketServiceWithConfig(logger.Nop(), StorageConfig{Mode: StorageModeEmulator, Bucket: "uploads", EmulatorHost: srv.URL})
	if err != nil {
		t.Fatalf("NewBucketServiceWithConfig: %v", err)
	}
	attrs, err := bs.GetObjectAttrs(context.Background(), "users/u1/talk.mp3")
	if err != nil {
		t.Fatalf("GetObjectAttrs: %v", err)
	}
	if attrs.Size != 2048 || attrs.ContentType != "audio/mpeg" || attrs.ETag != "abc" || attrs.Updated.IsZero() {
		t.Fatalf("attrs: %+v", attrs)
	}
	if _, err := bs.GetObjectAttrs(context.Background(), "missing.mp3"); err == nil {
		t.Fatalf("expected error for missing object")
	}
}
