package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// googleLanguages maps session languages to BCP-47 tags.
var googleLanguages = map[models.Language]string{
	models.LanguageEnglish: "en-US",
	models.LanguageRussian: "ru-RU",
}

const (
	googleMaxRetries = 3
	googleTimeout    = 2 * time.Minute
)

// recognizer is the part of the Speech client the transcriber uses.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
}

type speechClientRecognizer struct {
	client *speech.Client
}

func (r speechClientRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.client.Recognize(ctx, req)
}

// GoogleTranscriber uses Cloud Speech-to-Text synchronous recognition, which fits voice notes
// under one minute.
type GoogleTranscriber struct {
	rec   recognizer
	model string
	close func() error
}

// NewGoogleTranscriber creates a Speech client from the credentials file or the ambient
// application default credentials.
func NewGoogleTranscriber(ctx context.Context, opts ...Option) (*GoogleTranscriber, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	slog.Debug("transcribe.NewGoogleTranscriber configured", "credentials_file_set", cfg.CredentialsFile != "", "model", cfg.Model)
	return &GoogleTranscriber{rec: speechClientRecognizer{client: client}, model: cfg.Model, close: client.Close}, nil
}

// Close releases the gRPC connection.
func (g *GoogleTranscriber) Close() error {
	if g.close == nil {
		return nil
	}
	return g.close()
}

// Transcribe runs synchronous recognition and joins the top alternative of every result.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string, lang models.Language) (string, error) {
	code, ok := googleLanguages[lang]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	ctx, cancel := context.WithTimeout(ctx, googleTimeout)
	defer cancel()

	enc, rate := speechEncoding(mimeType)
	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   enc,
			SampleRateHertz:            rate,
			LanguageCode:               code,
			Model:                      g.model,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}

	var resp *speechpb.RecognizeResponse
	var err error
	for attempt := 0; attempt <= googleMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, err = g.rec.Recognize(ctx, req)
		if err == nil || !isRetryableSpeechErr(err) {
			break
		}
		slog.Warn("GoogleTranscriber.Transcribe retrying", "attempt", attempt+1, "error", err)
	}
	if err != nil {
		slog.Error("GoogleTranscriber.Transcribe failed", "error", err, "bytes", len(audio), "lang", lang)
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

func isRetryableSpeechErr(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

// speechEncoding maps a MIME type to the Speech encoding and sample rate. Containers that carry
// their own header (WAV, FLAC) are left unspecified.
func speechEncoding(mimeType string) (speechpb.RecognitionConfig_AudioEncoding, int32) {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mt, "audio/ogg"), strings.HasPrefix(mt, "audio/opus"):
		return speechpb.RecognitionConfig_OGG_OPUS, 48000
	case strings.HasPrefix(mt, "audio/webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS, 48000
	case strings.HasPrefix(mt, "audio/amr-wb"):
		return speechpb.RecognitionConfig_AMR_WB, 16000
	case strings.HasPrefix(mt, "audio/amr"):
		return speechpb.RecognitionConfig_AMR, 8000
	case strings.HasPrefix(mt, "audio/flac"):
		return speechpb.RecognitionConfig_FLAC, 0
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, 0
	}
}
