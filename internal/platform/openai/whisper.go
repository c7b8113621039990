package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yungbote/podium-backend/internal/domain/speech"
	"github.com/yungbote/podium-backend/internal/observability"
	"github.com/yungbote/podium-backend/internal/platform/ctxutil"
	"github.com/yungbote/podium-backend/internal/platform/envutil"
	"github.com/yungbote/podium-backend/internal/platform/httpx"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

const transcriptionsPath = "/v1/audio/transcriptions"

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the first retry delay; it doubles up to 30s.
	Backoff time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("OPENAI_API_KEY", ""),
		BaseURL:    envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:      envutil.String("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		Language:   envutil.String("OPENAI_TRANSCRIBE_LANGUAGE", ""),
		Timeout:    envutil.Duration("OPENAI_TIMEOUT_SECONDS", 300*time.Second),
		MaxRetries: envutil.Int("OPENAI_MAX_RETRIES", 4),
		Backoff:    time.Second,
	}
}

// WhisperTranscriber calls the audio transcription endpoint with word-level
// timestamps.
type WhisperTranscriber struct {
	log  *logger.Logger
	http *http.Client
	cfg  Config
}

func NewWhisperTranscriber(log *logger.Logger, cfg Config) (*WhisperTranscriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &WhisperTranscriber{
		log:  log.With("service", "WhisperTranscriber"),
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}, nil
}

// Namespace identifies the backend and model for cache keys.
func (w *WhisperTranscriber) Namespace() string { return "openai:" + w.cfg.Model }

type HTTPError struct {
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type verboseTranscription struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, chunkPath string) (*speech.ChunkTranscript, error) {
	ctx = ctxutil.Default(ctx)
	audio, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	body, contentType, err := w.buildForm(filepath.Base(chunkPath), audio)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	var out verboseTranscription
	err = w.doMultipart(ctx, body, contentType, &out)
	observability.Current().ObserveTranscription("openai", err, time.Since(started))
	if err != nil {
		return nil, err
	}

	res := &speech.ChunkTranscript{
		Text:  strings.TrimSpace(out.Text),
		Words: make([]speech.TimestampedWord, 0, len(out.Words)),
	}
	for _, word := range out.Words {
		if strings.TrimSpace(word.Word) == "" {
			continue
		}
		res.Words = append(res.Words, speech.TimestampedWord{Word: strings.TrimSpace(word.Word), Start: word.Start, End: word.End})
	}
	w.log.Debug("chunk transcribed", "chunk", filepath.Base(chunkPath), "words", len(res.Words), "duration_sec", out.Duration, "elapsed_ms", time.Since(started).Milliseconds())
	return res, nil
}

func (w *WhisperTranscriber) buildForm(filename string, audio []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"model", w.cfg.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
	}
	if w.cfg.Language != "" {
		fields = append(fields, [2]string{"language", w.cfg.Language})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// doMultipart posts the form, retrying transport errors, 429 and 5xx with
// exponential backoff. Retry-After is honored when present.
func (w *WhisperTranscriber) doMultipart(ctx context.Context, payload []byte, contentType string, out any) error {
	var last error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := httpx.Backoff(w.cfg.Backoff, attempt-1, 30*time.Second)
			var he *HTTPError
			if errors.As(last, &he) && he.retryAfter > 0 {
				wait = he.retryAfter
			}
			w.log.Warn("openai transcription retrying", "attempt", attempt, "error", last, "backoff_ms", wait.Milliseconds())
			if err := httpx.Sleep(ctx, wait); err != nil {
				return err
			}
		}

		err := w.doOnce(ctx, payload, contentType, out)
		if err == nil {
			return nil
		}
		last = err
		if !w.shouldRetry(ctx, err) {
			return err
		}
	}
	return last
}

func (w *WhisperTranscriber) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return httpx.IsRetryableHTTPStatus(he.StatusCode)
	}
	var decodeErr *json.SyntaxError
	return !errors.As(err, &decodeErr)
}

func (w *WhisperTranscriber) doOnce(ctx context.Context, payload []byte, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+transcriptionsPath, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if !httpx.IsSuccess(resp.StatusCode) {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			retryAfter: httpx.RetryAfterDuration(resp, 0, 30*time.Second),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode transcription: %w", err)
	}
	return nil
}
