// Package transcribe turns voice notes into text through an OpenAI-compatible
// Whisper endpoint (Groq by default).
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "remindbot/pkg/logx"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "whisper-large-v3"
	DefaultTimeout = 60 * time.Second
)

var ErrDisabled = errors.New("transcription disabled")

type Status int

const (
	StatusTranscribed Status = iota + 1
	StatusEmpty
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusTranscribed:
		return "transcribed"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one transcription. Text is set only for
// StatusTranscribed, Err only for StatusFailed.
type Result struct {
	Status Status
	Text   string
	Err    error
}

func Transcribed(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Status: StatusEmpty}
	}
	return Result{Status: StatusTranscribed, Text: text}
}

func Failed(err error) Result { return Result{Status: StatusFailed, Err: err} }

// Transcriber converts audio to text. Implementations never panic and never
// return a partially filled Result.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) Result
}

type Config struct {
	Enabled  bool
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// New returns a Whisper client, or a Transcriber that always fails with
// ErrDisabled when cfg.Enabled is false.
func New(cfg Config, log logx.Logger) Transcriber {
	if !cfg.Enabled {
		return disabled{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = DefaultBaseURL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		oc.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Whisper{
		client:   openai.NewClientWithConfig(oc),
		model:    model,
		language: strings.TrimSpace(cfg.Language),
		timeout:  timeout,
		log:      log.With(logx.String("comp", "transcribe")),
	}
}

type Whisper struct {
	client   *openai.Client
	model    string
	language string
	timeout  time.Duration
	log      logx.Logger
}

// Transcribe uploads audio (kept in memory, no temp files) and returns the text.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, filename string) Result {
	if len(audio) == 0 {
		return Result{Status: StatusEmpty}
	}
	if filename == "" {
		filename = "voice.ogg"
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: w.language,
	})
	if err != nil {
		w.log.Warn("transcription failed", logx.Int("bytes", len(audio)), logx.Duration("took", time.Since(start)), logx.Err(err))
		return Failed(fmt.Errorf("transcribe: %w", err))
	}
	res := Transcribed(resp.Text)
	w.log.Debug("transcription done",
		logx.Int("bytes", len(audio)),
		logx.String("status", res.Status.String()),
		logx.Int("chars", len(res.Text)),
		logx.Duration("took", time.Since(start)),
	)
	return res
}

type disabled struct{}

func (disabled) Transcribe(context.Context, []byte, string) Result { return Failed(ErrDisabled) }
