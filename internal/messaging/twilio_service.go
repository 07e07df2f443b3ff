package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/twiliowhatsapp"
)

// TwilioService implements Service over the Twilio WhatsApp API. Inbound messages arrive
// through TwilioWebhookHandler.
type TwilioService struct {
	client  twiliowhatsapp.Sender
	options *optionMemory
	inbox   *inbox
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:  client,
		options: newOptionMemory(),
		inbox:   newInbox("twilio"),
	}
}

// Name returns "twilio".
func (s *TwilioService) Name() string { return "twilio" }

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalPhone(strings.TrimPrefix(recipient, "whatsapp:"))
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op; messages arrive on the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the inbound channel.
func (s *TwilioService) Stop() error {
	s.inbox.close()
	return nil
}

// Inbound returns received messages.
func (s *TwilioService) Inbound() <-chan models.Inbound {
	return s.inbox.ch
}

// SendReply sends the reply with its keyboard rendered as a numbered list.
func (s *TwilioService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	if s.inbox.isClosed() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendReply validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, renderNumbered(reply)); err != nil {
		return err
	}
	s.options.remember(canonical, reply)
	return nil
}

// SendTyping is a no-op; Twilio has no typing indicator.
func (s *TwilioService) SendTyping(ctx context.Context, to string) error {
	return nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from, err := s.ValidateAndCanonicalizeRecipient(r.FormValue("From"))
	if err != nil {
		slog.Warn("Twilio webhook invalid sender", "from", r.FormValue("From"), "error", err)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	body := r.FormValue("Body")
	mediaURL := r.FormValue("MediaUrl0")
	if body == "" && mediaURL == "" {
		slog.Warn("Twilio webhook missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	in := models.Inbound{
		From:        from,
		DisplayName: r.FormValue("ProfileName"),
		FirstName:   r.FormValue("ProfileName"),
		Time:        time.Now().Unix(),
	}
	if sid := r.FormValue("MessageSid"); sid != "" {
		in.ID = "twilio:" + sid
	}

	switch {
	case body != "":
		if isStartCommand(body) {
			in.Kind = models.ContentStart
		} else {
			in.Kind, in.Text = models.ContentText, s.options.resolve(from, body)
		}
	case strings.HasPrefix(r.FormValue("MediaContentType0"), "audio/"):
		data, mime, err := s.client.FetchMedia(r.Context(), mediaURL)
		if err != nil || len(data) == 0 {
			slog.Error("TwilioService media download failed", "from", from, "error", err)
			in.Kind = models.ContentUnsupported
			break
		}
		if mime == "" {
			mime = r.FormValue("MediaContentType0")
		}
		in.Kind, in.Audio, in.AudioMIME = models.ContentVoice, data, mime
	default:
		in.Kind = models.ContentUnsupported
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "kind", in.Kind)
	s.inbox.emit(in)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
