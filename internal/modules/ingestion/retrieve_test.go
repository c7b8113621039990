package ingestion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, RequestTimeout: 5 * time.Second}
}

func TestRetrieveRetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	sm := newScratch(t)
	r := NewRetriever(testLogger(), nil, sm, fastRetrieverConfig())
	path, err := r.Retrieve(context.Background(), srv.URL+"/uploads/talk.mp3", "talk.MP3")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("attempts: want=3 got=%d", hits.Load())
	}
	if filepath.Ext(path) != ".mp3" {
		t.Fatalf("ext: want=.mp3 got=%q", filepath.Ext(path))
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "audio-bytes" {
		t.Fatalf("downloaded content: %q err=%v", b, err)
	}
}

func TestRetrieveGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sm := newScratch(t)
	r := NewRetriever(testLogger(), nil, sm, fastRetrieverConfig())
	_, err := r.Retrieve(context.Background(), srv.URL+"/a.wav", "a.wav")

	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("want DownloadError got=%v", err)
	}
	if de.Attempts != 3 || de.LastStatus != http.StatusBadGateway {
		t.Fatalf("unexpected error: %+v", de)
	}
	if !strings.Contains(err.Error(), "failed to download file after 3 attempts: HTTP 502") {
		t.Fatalf("message: %q", err.Error())
	}
	if hits.Load() != 3 {
		t.Fatalf("attempts: want=3 got=%d", hits.Load())
	}
	if left := scratchEntries(t, sm); len(left) != 0 {
		t.Fatalf("scratch files left behind: %v", left)
	}
}

func TestRetrieveChecksStorageFirst(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	store := &fakeStore{prefix: srv.URL + "/", attrErr: errors.New("storage: object doesn't exist")}
	r := NewRetriever(testLogger(), store, newScratch(t), fastRetrieverConfig())
	_, err := r.Retrieve(context.Background(), srv.URL+"/users/u1/talk.mp3", "talk.mp3")
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("want ErrSourceNotFound got=%v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("download attempted for missing object")
	}
	if len(store.lookups) != 1 || store.lookups[0] != "users/u1/talk.mp3" {
		t.Fatalf("lookups: %v", store.lookups)
	}
}

func TestRetrieveSkipsCheckForForeignURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	store := &fakeStore{prefix: "https://cdn.example.com/", attrErr: errors.New("should not be called")}
	r := NewRetriever(testLogger(), store, newScratch(t), fastRetrieverConfig())
	if _, err := r.Retrieve(context.Background(), srv.URL+"/clip.webm", ""); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(store.lookups) != 0 {
		t.Fatalf("unexpected lookups: %v", store.lookups)
	}
}

func TestRetrieveHonorsCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastRetrieverConfig()
	cfg.InitialBackoff = time.Hour
	r := NewRetriever(testLogger(), nil, newScratch(t), cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Retrieve(ctx, srv.URL+"/a.mp3", "a.mp3")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded got=%v", err)
	}
}

func TestDeleteSource(t *testing.T) {
	store := &fakeStore{prefix: "https://cdn.example.com/"}
	r := NewRetriever(testLogger(), store, newScratch(t), fastRetrieverConfig())
	r.DeleteSource(context.Background(), "https://cdn.example.com/users/u1/talk.mp3")
	r.DeleteSource(context.Background(), "https://elsewhere.example.com/x.mp3")
	if len(store.deleted) != 1 || store.deleted[0] != "users/u1/talk.mp3" {
		t.Fatalf("deleted: %v", store.deleted)
	}
}

func TestSourceExt(t *testing.T) {
	cases := []struct {
		url, name, want string
	}{
		{"https://x/y/talk.m4a?sig=1", "", ".m4a"},
		{"https://x/y/blob", "Recording.MOV", ".MOV"},
		{"https://x/y/blob", "", ""},
	}
	for _, c := range cases {
		if got := sourceExt(c.url, c.name); got != c.want {
			t.Fatalf("sourceExt(%q, %q): want=%q got=%q", c.url, c.name, c.want, got)
		}
	}
}
