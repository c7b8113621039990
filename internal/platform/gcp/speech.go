package gcp

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	speechapi "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/observability"
	"github.com/yungbote/podium-backend/internal/platform/ctxutil"
	"github.com/yungbote/podium-backend/internal/platform/envutil"
	"github.com/yungbote/podium-backend/internal/platform/httpx"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

// maxInlineAudioBytes is the largest payload Cloud Speech accepts inline.
// Bigger chunks are staged in the uploads bucket and passed by gs:// URI.
const maxInlineAudioBytes = 10 * 1024 * 1024

type SpeechConfig struct {
	LanguageCode string
	Model        string
	UseEnhanced  bool
	// SampleRateHertz and AudioChannelCount must match the chunk encoding.
	SampleRateHertz   int
	AudioChannelCount int
	MaxRetries        int
	StagingPrefix     string
}

func SpeechConfigFromEnv() SpeechConfig {
	return SpeechConfig{
		LanguageCode:      envutil.String("SPEECH_LANGUAGE_CODE", "en-US"),
		Model:             envutil.String("SPEECH_MODEL", "latest_long"),
		UseEnhanced:       envutil.Bool("SPEECH_USE_ENHANCED", true),
		SampleRateHertz:   envutil.Int("SPEECH_SAMPLE_RATE_HZ", 16000),
		AudioChannelCount: envutil.Int("SPEECH_AUDIO_CHANNELS", 1),
		MaxRetries:        envutil.Int("SPEECH_MAX_RETRIES", 4),
		StagingPrefix:     envutil.String("SPEECH_STAGING_PREFIX", "speech-staging"),
	}
}

type recognizeFunc func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)

// SpeechTranscriber transcribes audio chunks with Cloud Speech-to-Text and
// word time offsets enabled.
type SpeechTranscriber struct {
	log       *logger.Logger
	client    *speechapi.Client
	recognize recognizeFunc
	// staging may be nil, in which case oversize chunks are rejected.
	staging BucketService
	cfg     SpeechConfig
	backoff time.Duration
}

func NewSpeechTranscriber(log *logger.Logger, staging BucketService, cfg SpeechConfig) (*SpeechTranscriber, error) {
	c, err := speechapi.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	s := newSpeechTranscriber(log, staging, cfg, func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
		op, err := c.LongRunningRecognize(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	s.client = c
	return s, nil
}

func newSpeechTranscriber(log *logger.Logger, staging BucketService, cfg SpeechConfig, fn recognizeFunc) *SpeechTranscriber {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.StagingPrefix == "" {
		cfg.StagingPrefix = "speech-staging"
	}
	return &SpeechTranscriber{
		log:       log.With("service", "gcp.Speech"),
		recognize: fn,
		staging:   staging,
		cfg:       cfg,
		backoff:   750 * time.Millisecond,
	}
}

func (s *SpeechTranscriber) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *SpeechTranscriber) Transcribe(ctx context.Context, chunkPath string) (*speech.ChunkTranscript, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	audio, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	if len(audio) == 0 {
		return &speech.ChunkTranscript{Words: []speech.TimestampedWord{}}, nil
	}

	req := &speechpb.LongRunningRecognizeRequest{Config: s.recognitionConfig(chunkPath)}
	if len(audio) <= maxInlineAudioBytes {
		req.Audio = &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}}
	} else {
		if s.staging == nil {
			return nil, fmt.Errorf("chunk of %d bytes exceeds inline limit and no staging bucket is configured", len(audio))
		}
		key := fmt.Sprintf("%s/%s%s", strings.Trim(s.cfg.StagingPrefix, "/"), uuid.NewString(), strings.ToLower(filepath.Ext(chunkPath)))
		if err := s.staging.UploadFile(ctx, key, bytes.NewReader(audio)); err != nil {
			return nil, fmt.Errorf("stage chunk: %w", err)
		}
		defer func() {
			if err := s.staging.DeleteFile(context.Background(), key); err != nil {
				s.log.Warn("delete staged chunk failed", "key", key, "error", err)
			}
		}()
		req.Audio = &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: s.staging.GSURI(key)}}
	}

	started := time.Now()
	resp, err := s.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		return s.recognize(ctx, req)
	})
	observability.Current().ObserveTranscription("gcp_speech", err, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}
	return parseSpeechResponse(resp), nil
}

func (s *SpeechTranscriber) recognitionConfig(path string) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		LanguageCode:               s.cfg.LanguageCode,
		Model:                      s.cfg.Model,
		UseEnhanced:                s.cfg.UseEnhanced,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		Encoding:                   inferSpeechEncoding(path),
		SampleRateHertz:            int32(max(s.cfg.SampleRateHertz, 0)),
		AudioChannelCount:          int32(max(s.cfg.AudioChannelCount, 0)),
	}
}

func inferSpeechEncoding(path string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3", ".mpga", ".mpeg":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// parseSpeechResponse keeps the top alternative of each result. Result
// transcripts are joined with a space and words keep the offsets the API
// reports, which are relative to the submitted audio.
func parseSpeechResponse(resp *speechpb.LongRunningRecognizeResponse) *speech.ChunkTranscript {
	out := &speech.ChunkTranscript{Words: []speech.TimestampedWord{}}
	if resp == nil {
		return out
	}
	texts := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if t := strings.TrimSpace(alt.Transcript); t != "" {
			texts = append(texts, t)
		}
		for _, w := range alt.Words {
			if w == nil || strings.TrimSpace(w.Word) == "" {
				continue
			}
			out.Words = append(out.Words, speech.TimestampedWord{
				Word:  w.Word,
				Start: durToSec(w.StartTime),
				End:   durToSec(w.EndTime),
			})
		}
	}
	out.Text = strings.Join(texts, " ")
	return out
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

func (s *SpeechTranscriber) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	var last error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		switch status.Code(err) {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		default:
			return nil, err
		}
		if attempt == s.cfg.MaxRetries {
			break
		}
		wait := httpx.Backoff(s.backoff, attempt, 10*time.Second)
		s.log.Warn("speech recognize retrying", "attempt", attempt+1, "code", status.Code(err).String(), "backoff_ms", wait.Milliseconds())
		if err := httpx.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, last
}
