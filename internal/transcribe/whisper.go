package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// whisperLanguages maps session languages to ISO-639-1 codes.
var whisperLanguages = map[models.Language]string{
	models.LanguageEnglish: "en",
	models.LanguageRussian: "ru",
}

// WhisperTranscriber uses the OpenAI audio transcription endpoint.
type WhisperTranscriber struct {
	client openai.Client
	model  openai.AudioModel
}

// NewWhisperTranscriber creates a Whisper-backed transcriber. The API key is required.
func NewWhisperTranscriber(opts ...Option) (*WhisperTranscriber, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("transcribe: OpenAI API key not set")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	model := openai.AudioModelWhisper1
	if cfg.Model != "" {
		model = openai.AudioModel(cfg.Model)
	}
	slog.Debug("transcribe.NewWhisperTranscriber configured", "model", model, "base_url_set", cfg.BaseURL != "")
	return &WhisperTranscriber{client: openai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe sends the audio to Whisper with the language hint.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string, lang models.Language) (string, error) {
	code, ok := whisperLanguages[lang]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}
	file := openai.File(bytes.NewReader(audio), "voice."+fileExtension(mimeType), mimeType)
	resp, err := w.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:     file,
		Model:    w.model,
		Language: openai.String(code),
	})
	if err != nil {
		slog.Error("WhisperTranscriber.Transcribe failed", "error", err, "bytes", len(audio), "lang", lang)
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	slog.Debug("WhisperTranscriber.Transcribe succeeded", "bytes", len(audio), "lang", lang, "chars", len(text))
	return text, nil
}
