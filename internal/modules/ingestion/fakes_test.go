package ingestion

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/modules/acoustics"
	"github.com/yungbote/podium-backend/internal/platform/gcp"
	"github.com/yungbote/podium-backend/internal/platform/localmedia"
	"github.com/yungbote/podium-backend/internal/platform/logger"
	"github.com/yungbote/podium-backend/internal/platform/scratch"
)

type segmentCall struct {
	in       string
	out      string
	startSec float64
	durSec   float64
}

type fakeMedia struct {
	mu sync.Mutex

	probe        func(path string) (*localmedia.ProbeResult, error)
	transcodeErr error
	// transcodeSize is the size of the file Transcode leaves behind.
	transcodeSize int64
	segmentErrAt  int

	probes     []string
	transcodes []string
	segments   []segmentCall
}

func newFakeMedia(duration float64) *fakeMedia {
	return &fakeMedia{
		probe: func(string) (*localmedia.ProbeResult, error) {
			return &localmedia.ProbeResult{HasAudio: true, DurationSeconds: duration}, nil
		},
		transcodeSize: 1024,
		segmentErrAt:  -1,
	}
}

func (m *fakeMedia) Probe(_ context.Context, path string) (*localmedia.ProbeResult, error) {
	m.mu.Lock()
	m.probes = append(m.probes, path)
	m.mu.Unlock()
	return m.probe(path)
}

func (m *fakeMedia) Transcode(_ context.Context, in, out string, _ localmedia.AudioEncodeOptions) error {
	m.mu.Lock()
	m.transcodes = append(m.transcodes, in)
	m.mu.Unlock()
	if err := sparseFile(out, m.transcodeSize); err != nil {
		return err
	}
	return m.transcodeErr
}

func (m *fakeMedia) ExtractSegment(_ context.Context, in, out string, startSec, durSec float64, _ localmedia.AudioEncodeOptions) error {
	m.mu.Lock()
	idx := len(m.segments)
	m.segments = append(m.segments, segmentCall{in: in, out: out, startSec: startSec, durSec: durSec})
	m.mu.Unlock()
	if idx == m.segmentErrAt {
		return errors.New("ffmpeg: segment failed")
	}
	return os.WriteFile(out, []byte{byte(idx)}, 0o644)
}

func (m *fakeMedia) segmentIndex(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.segments {
		if s.out == path {
			return i
		}
	}
	return -1
}

func sparseFile(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type fakeTranscriber struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, path string) (*speech.ChunkTranscript, error)
	calls []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*speech.ChunkTranscript, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	return f.fn(ctx, path)
}

type fakeStore struct {
	prefix  string
	attrErr error
	deleted []string
	lookups []string
}

func (s *fakeStore) KeyFromURL(rawURL string) (string, bool) {
	if len(rawURL) < len(s.prefix) || rawURL[:len(s.prefix)] != s.prefix {
		return "", false
	}
	return rawURL[len(s.prefix):], true
}

func (s *fakeStore) GetObjectAttrs(_ context.Context, key string) (*gcp.ObjectAttrs, error) {
	s.lookups = append(s.lookups, key)
	if s.attrErr != nil {
		return nil, s.attrErr
	}
	return &gcp.ObjectAttrs{Size: 42, ContentType: "audio/mpeg"}, nil
}

func (s *fakeStore) DeleteFile(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	return nil
}

type fakeAnalyzer struct {
	res  *acoustics.Result
	err  error
	path string
}

func (a *fakeAnalyzer) Analyze(_ context.Context, path string) (*acoustics.Result, error) {
	a.path = path
	return a.res, a.err
}

func newScratch(t *testing.T) *scratch.Manager {
	t.Helper()
	sm, err := scratch.New(t.TempDir())
	if err != nil {
		t.Fatalf("scratch.New: %v", err)
	}
	return sm
}

func scratchEntries(t *testing.T, sm *scratch.Manager) []string {
	t.Helper()
	entries, err := os.ReadDir(sm.Root())
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func testLogger() *logger.Logger { return logger.Nop() }
