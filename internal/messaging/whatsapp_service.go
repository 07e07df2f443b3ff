package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// audioDownloader fetches voice note media.
type audioDownloader interface {
	DownloadAudio(ctx context.Context, audio *waE2E.AudioMessage) ([]byte, error)
}

// eventSource delivers whatsmeow events.
type eventSource interface {
	AddEventHandler(handler func(evt any)) uint32
	RemoveEventHandler(id uint32)
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client. Keyboards are
// rendered as numbered lists and numeric answers are mapped back to labels.
type WhatsAppService struct {
	client     whatsapp.Sender
	downloader audioDownloader
	events     eventSource
	options    *optionMemory
	inbox      *inbox
	mu         sync.Mutex
	handlerID  uint32
	registered bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given sender. When the sender is
// a full *whatsapp.Client it also receives messages and downloads voice notes.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	s := &WhatsAppService{
		client:  client,
		options: newOptionMemory(),
		inbox:   newInbox("wa"),
	}
	if d, ok := client.(audioDownloader); ok {
		s.downloader = d
	}
	if src, ok := client.(eventSource); ok {
		s.events = src
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with send-only client (likely mock)")
	}
	return s
}

// Name returns "wa".
func (s *WhatsAppService) Name() string { return "wa" }

// ValidateAndCanonicalizeRecipient strips non-digits from a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start registers the event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.events == nil {
		slog.Debug("WhatsAppService no event source, skipping event handling")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlerID = s.events.AddEventHandler(func(evt any) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleMessage(ctx, v)
		case *events.Connected:
			slog.Info("WhatsAppService connected")
		case *events.Disconnected:
			slog.Warn("WhatsAppService disconnected")
		}
	})
	s.registered = true
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop unregisters the handler and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	if s.registered {
		s.events.RemoveEventHandler(s.handlerID)
		s.registered = false
	}
	s.mu.Unlock()
	s.inbox.close()
	slog.Info("WhatsAppService stopped")
	return nil
}

// Inbound returns received messages.
func (s *WhatsAppService) Inbound() <-chan models.Inbound {
	return s.inbox.ch
}

// SendReply sends the reply text with its keyboard rendered as a numbered list.
func (s *WhatsAppService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	if s.inbox.isClosed() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, renderNumbered(reply)); err != nil {
		slog.Error("WhatsAppService.SendReply failed", "error", err, "to", canonical)
		return err
	}
	s.options.remember(canonical, reply)
	return nil
}

// SendTyping shows the composing presence.
func (s *WhatsAppService) SendTyping(ctx context.Context, to string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendTyping(ctx, canonical)
}

// handleMessage converts a whatsmeow message event into an Inbound.
func (s *WhatsAppService) handleMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	from := evt.Info.Sender.User
	in := models.Inbound{
		ID:          "wa:" + string(evt.Info.ID),
		From:        from,
		DisplayName: evt.Info.PushName,
		FirstName:   evt.Info.PushName,
		Time:        evt.Info.Timestamp.Unix(),
	}
	if in.Time <= 0 {
		in.Time = time.Now().Unix()
	}

	msg := evt.Message
	switch {
	case msg.GetConversation() != "":
		in.Kind, in.Text = models.ContentText, s.options.resolve(from, msg.GetConversation())
	case msg.GetExtendedTextMessage().GetText() != "":
		in.Kind, in.Text = models.ContentText, s.options.resolve(from, msg.GetExtendedTextMessage().GetText())
	case msg.GetAudioMessage() != nil && s.downloader != nil:
		audio := msg.GetAudioMessage()
		data, err := s.downloader.DownloadAudio(ctx, audio)
		if err != nil || len(data) == 0 {
			slog.Error("WhatsAppService voice download failed", "from", from, "error", err)
			in.Kind = models.ContentUnsupported
			break
		}
		in.Kind, in.Audio, in.AudioMIME = models.ContentVoice, data, audio.GetMimetype()
	default:
		in.Kind = models.ContentUnsupported
	}
	if in.Kind == models.ContentText && isStartCommand(in.Text) {
		in.Kind, in.Text = models.ContentStart, ""
	}
	s.inbox.emit(in)
}
