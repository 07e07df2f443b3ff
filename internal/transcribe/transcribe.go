// Package transcribe converts voice notes to text through a speech-to-text provider.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrUnsupportedLanguage is returned for languages the provider is not configured for.
var ErrUnsupportedLanguage = errors.New("transcribe: unsupported language")

// ErrEmptyAudio is returned when there is nothing to transcribe.
var ErrEmptyAudio = errors.New("transcribe: empty audio")

// Transcriber turns audio into text in the given language.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string, lang models.Language) (string, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGoogle = "google"
)

// Opts holds configuration shared by the providers.
type Opts struct {
	APIKey          string
	BaseURL         string
	Model           string
	CredentialsFile string
}

// Option configures a transcriber.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the OpenAI client at a different server.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithModel overrides the provider model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithCredentialsFile sets the Google service-account JSON path.
func WithCredentialsFile(path string) Option {
	return func(o *Opts) { o.CredentialsFile = path }
}

// New builds the transcriber for provider.
func New(ctx context.Context, provider string, opts ...Option) (Transcriber, error) {
	switch strings.ToLower(provider) {
	case "", ProviderOpenAI:
		return NewWhisperTranscriber(opts...)
	case ProviderGoogle:
		return NewGoogleTranscriber(ctx, opts...)
	default:
		return nil, fmt.Errorf("transcribe: unknown provider %q", provider)
	}
}

// fileExtension guesses a filename extension from a MIME type; providers use it to sniff the
// container format.
func fileExtension(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mt, "audio/ogg"), strings.HasPrefix(mt, "audio/opus"):
		return "ogg"
	case strings.HasPrefix(mt, "audio/mpeg"), strings.HasPrefix(mt, "audio/mp3"):
		return "mp3"
	case strings.HasPrefix(mt, "audio/mp4"), strings.HasPrefix(mt, "audio/m4a"), strings.HasPrefix(mt, "audio/aac"):
		return "m4a"
	case strings.HasPrefix(mt, "audio/wav"), strings.HasPrefix(mt, "audio/x-wav"):
		return "wav"
	case strings.HasPrefix(mt, "audio/webm"):
		return "webm"
	case strings.HasPrefix(mt, "audio/amr"):
		return "amr"
	default:
		return "ogg"
	}
}
