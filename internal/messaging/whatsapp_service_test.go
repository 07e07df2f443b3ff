package messaging

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"github.com/BTreeMap/CoachPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// fakeWAClient is a send-capable client that also delivers events and media.
type fakeWAClient struct {
	*whatsapp.MockClient
	handler  func(evt any)
	removed  bool
	audio    []byte
	audioErr error
}

func (f *fakeWAClient) AddEventHandler(h func(evt any)) uint32 {
	f.handler = h
	return 1
}

func (f *fakeWAClient) RemoveEventHandler(id uint32) { f.removed = true }

func (f *fakeWAClient) DownloadAudio(ctx context.Context, audio *waE2E.AudioMessage) ([]byte, error) {
	return f.audio, f.audioErr
}

func waMessage(id string, msg *waE2E.Message) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("15551234567", types.DefaultUserServer)},
			ID:            types.MessageID(id),
			PushName:      "Ann",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: msg,
	}
}

func receive(t *testing.T, svc Service) models.Inbound {
	t.Helper()
	select {
	case in := <-svc.Inbound():
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
		return models.Inbound{}
	}
}

func TestWhatsAppService_ImplementsService(t *testing.T) {
	var _ Service = (*WhatsAppService)(nil)
	var _ Service = (*TwilioService)(nil)
	var _ Service = (*TelegramService)(nil)
}

func TestWhatsAppSendReplyNumbered(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock)
	ctx := context.Background()

	err := svc.SendReply(ctx, "+1 555 123 4567", models.Reply{Text: "Eat meat?", Keyboard: [][]string{{"Yes", "No"}}})
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("sent %d, want 1", len(mock.SentMessages))
	}
	got := mock.SentMessages[0]
	if got.To != "15551234567" || got.Body != "Eat meat?\n\n1. Yes\n2. No" {
		t.Errorf("sent = %+v", got)
	}
	if err := svc.SendTyping(ctx, "15551234567"); err != nil {
		t.Fatal(err)
	}
	if len(mock.Typing) != 1 {
		t.Errorf("typing = %v", mock.Typing)
	}
}

func TestWhatsAppSendReplyError(t *testing.T) {
	mock := whatsapp.NewMockClient()
	mock.SendErr = errors.New("boom")
	svc := NewWhatsAppService(mock)
	if err := svc.SendReply(context.Background(), "15551234567", models.Reply{Text: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWhatsAppIncomingMessages(t *testing.T) {
	client := &fakeWAClient{MockClient: whatsapp.NewMockClient(), audio: []byte("opus")}
	svc := NewWhatsAppService(client)
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if client.handler == nil {
		t.Fatal("event handler not registered")
	}

	if err := svc.SendReply(ctx, "15551234567", models.Reply{Text: "?", Keyboard: [][]string{{"Male", "Female"}}}); err != nil {
		t.Fatal(err)
	}

	client.handler(waMessage("M1", &waE2E.Message{Conversation: proto.String("2")}))
	in := receive(t, svc)
	if in.ID != "wa:M1" || in.From != "15551234567" || in.Kind != models.ContentText || in.Text != "Female" {
		t.Errorf("numbered answer = %+v", in)
	}
	if in.DisplayName != "Ann" || in.Time != 1700000000 {
		t.Errorf("identity = %+v", in)
	}

	client.handler(waMessage("M2", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("/start")}}))
	if in := receive(t, svc); in.Kind != models.ContentStart {
		t.Errorf("start = %+v", in)
	}

	client.handler(waMessage("M3", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{Mimetype: proto.String("audio/ogg; codecs=opus")}}))
	in = receive(t, svc)
	if in.Kind != models.ContentVoice || !bytes.Equal(in.Audio, []byte("opus")) || in.AudioMIME != "audio/ogg; codecs=opus" {
		t.Errorf("voice = %+v", in)
	}

	client.handler(waMessage("M4", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}))
	if in := receive(t, svc); in.Kind != models.ContentUnsupported {
		t.Errorf("image = %+v", in)
	}

	own := waMessage("M5", &waE2E.Message{Conversation: proto.String("echo")})
	own.Info.IsFromMe = true
	client.handler(own)
	select {
	case in := <-svc.Inbound():
		t.Errorf("own message forwarded: %+v", in)
	default:
	}

	if err := svc.Stop(); err != nil {
		t.Fatal(err)
	}
	if !client.removed {
		t.Error("event handler not removed")
	}
	if _, ok := <-svc.Inbound(); ok {
		t.Error("inbound channel should be closed")
	}
}

func TestWhatsAppVoiceDownloadFailure(t *testing.T) {
	client := &fakeWAClient{MockClient: whatsapp.NewMockClient(), audioErr: errors.New("expired")}
	svc := NewWhatsAppService(client)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	client.handler(waMessage("V1", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}))
	if in := receive(t, svc); in.Kind != models.ContentUnsupported {
		t.Errorf("kind = %s, want unsupported", in.Kind)
	}
}

func TestWhatsAppStartWithoutEvents(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.SendReply(context.Background(), "15551234567", models.Reply{Text: "x"}); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("SendReply after Stop = %v", err)
	}
}
