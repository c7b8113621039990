package localmedia

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/podium-backend/internal/platform/logger"
)

type call struct {
	name string
	args []string
}

func fakeTools(t *testing.T, stdout []byte, err error, calls *[]call) *tools {
	t.Helper()
	m := New(logger.Nop()).(*tools)
	m.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		if err == nil && name == m.ffmpegPath {
			// Emulate ffmpeg writing its output file.
			out := args[len(args)-1]
			if out != "pipe:1" {
				_ = os.WriteFile(out, []byte("encoded"), 0o644)
			}
		}
		return stdout, err
	}
	return m
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
	  "streams": [
	    {"codec_type": "video", "codec_name": "h264"},
	    {"codec_type": "audio", "codec_name": "aac", "duration": "12.5"}
	  ],
	  "format": {"format_name": "mov,mp4,m4a", "duration": "12.48"}
	}`)
	got, err := parseProbe(raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if !got.HasAudio || !got.HasVideo || got.AudioCodec != "aac" || got.DurationSeconds != 12.48 {
		t.Fatalf("unexpected probe: %+v", got)
	}

	silent, err := parseProbe([]byte(`{"streams":[{"codec_type":"video"}],"format":{"duration":"3"}}`))
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if silent.HasAudio {
		t.Fatalf("video-only file reported audio")
	}
}

func TestProbeRunsFFprobe(t *testing.T) {
	var calls []call
	m := fakeTools(t, []byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"600"}}`), nil, &calls)
	got, err := m.Probe(context.Background(), "/tmp/in.mkv")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got.DurationSeconds != 600 {
		t.Fatalf("duration: want=600 got=%v", got.DurationSeconds)
	}
	if len(calls) != 1 || calls[0].name != "ffprobe" || calls[0].args[len(calls[0].args)-1] != "/tmp/in.mkv" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
}

func TestExtractSegmentArgs(t *testing.T) {
	var calls []call
	m := fakeTools(t, nil, nil, &calls)
	out := filepath.Join(t.TempDir(), "chunk.mp3")
	if err := m.ExtractSegment(context.Background(), "in.mp3", out, 200, 200, AudioEncodeOptions{}); err != nil {
		t.Fatalf("ExtractSegment: %v", err)
	}
	joined := strings.Join(calls[0].args, " ")
	for _, want := range []string{"-ss 200.000", "-t 200.000", "-i in.mp3", "-ac 1", "-ar 16000", "-c:a libmp3lame", "-b:a 32k"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
	if strings.Index(joined, "-ss") > strings.Index(joined, "-i ") {
		t.Fatalf("seek must precede input: %s", joined)
	}

	calls = nil
	if err := m.ExtractSegment(context.Background(), "in.mp3", out, 400, 0, AudioEncodeOptions{}); err != nil {
		t.Fatalf("ExtractSegment: %v", err)
	}
	if strings.Contains(strings.Join(calls[0].args, " "), "-t ") {
		t.Fatalf("last segment must run to end of file: %v", calls[0].args)
	}
}

func TestTranscodeFailureIsWrapped(t *testing.T) {
	var calls []call
	boom := errors.New("invalid data found when processing input")
	m := fakeTools(t, nil, boom, &calls)
	err := m.Transcode(context.Background(), "bad.avi", filepath.Join(t.TempDir(), "o.mp3"), AudioEncodeOptions{})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped ffmpeg error got=%v", err)
	}
}

func TestDecodePCM(t *testing.T) {
	raw := make([]byte, 0, 14)
	for _, v := range []float32{0.5, -0.25, 1} {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	raw = append(raw, 0x01, 0x02)

	var calls []call
	m := fakeTools(t, raw, nil, &calls)
	got, err := m.DecodePCM(context.Background(), "a.mp3", 16000)
	if err != nil {
		t.Fatalf("DecodePCM: %v", err)
	}
	if len(got) != 3 || got[0] != 0.5 || got[1] != -0.25 || got[2] != 1 {
		t.Fatalf("samples: %v", got)
	}
	joined := strings.Join(calls[0].args, " ")
	if !strings.Contains(joined, "-f f32le") || !strings.HasSuffix(joined, "pipe:1") {
		t.Fatalf("unexpected args: %s", joined)
	}
}
