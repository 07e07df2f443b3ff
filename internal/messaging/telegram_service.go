package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Telegram transport defaults.
const (
	// TelegramPollTimeout is the long polling timeout in seconds.
	TelegramPollTimeout = 60
	// TelegramSendRate is the global outbound message rate allowed by the Bot API.
	TelegramSendRate = 30
	// MaxVoiceBytes caps voice note downloads.
	MaxVoiceBytes = 20 << 20
)

// telegramBot is the part of *tgbotapi.BotAPI the service uses.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

// TelegramService implements Service over the Telegram Bot API with long polling.
type TelegramService struct {
	bot     telegramBot
	http    *http.Client
	limiter *rate.Limiter
	inbox   *inbox
	stop    sync.Once
}

// TelegramOption configures a TelegramService.
type TelegramOption func(*TelegramService)

// WithTelegramHTTPClient sets the client used to download voice notes.
func WithTelegramHTTPClient(c *http.Client) TelegramOption {
	return func(s *TelegramService) { s.http = c }
}

// WithTelegramRateLimit overrides the outbound message rate.
func WithTelegramRateLimit(perSecond float64, burst int) TelegramOption {
	return func(s *TelegramService) { s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewTelegramBot authorizes the token against the Bot API.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, errors.New("telegram bot token not set")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authorization failed: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", api.Self.UserName)
	return api, nil
}

// NewTelegramService wraps an authorized bot.
func NewTelegramService(bot telegramBot, opts ...TelegramOption) *TelegramService {
	s := &TelegramService{
		bot:     bot,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(TelegramSendRate), 1),
		inbox:   newInbox("tg"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "tg".
func (s *TelegramService) Name() string { return "tg" }

// ValidateAndCanonicalizeRecipient accepts numeric chat ids.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if _, err := strconv.ParseInt(recipient, 10, 64); err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q", recipient)
	}
	return recipient, nil
}

func chatID(to string) (int64, error) {
	id, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}
	return id, nil
}

// SendReply sends the reply with a reply keyboard, or removes the keyboard when asked.
// Markdown that Telegram cannot parse is resent as plain text.
func (s *TelegramService) SendReply(ctx context.Context, to string, reply models.Reply) error {
	if s.inbox.isClosed() {
		return ErrServiceStopped
	}
	id, err := chatID(to)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, reply.Text)
	switch {
	case reply.HasKeyboard():
		msg.ReplyMarkup = replyKeyboard(reply.Keyboard)
	case reply.RemoveKeyboard:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}
	switch reply.Markup {
	case models.MarkupMarkdown:
		msg.ParseMode = tgbotapi.ModeMarkdown
	case models.MarkupHTML:
		msg.ParseMode = tgbotapi.ModeHTML
	}

	err = s.send(ctx, msg)
	var apiErr *tgbotapi.Error
	if err != nil && msg.ParseMode != "" && errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest {
		slog.Warn("TelegramService.SendReply markup rejected, resending as plain text", "to", to, "error", err)
		msg.ParseMode = ""
		err = s.send(ctx, msg)
	}
	if err != nil {
		slog.Error("TelegramService.SendReply failed", "to", to, "error", err)
		return fmt.Errorf("telegram send to %s: %w", to, err)
	}
	slog.Debug("TelegramService.SendReply sent", "to", to, "text_length", len(reply.Text))
	return nil
}

func (s *TelegramService) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.bot.Send(msg)
	return err
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			r = append(r, tgbotapi.NewKeyboardButton(label))
		}
		buttons = append(buttons, tgbotapi.NewKeyboardButtonRow(r...))
	}
	kb := tgbotapi.NewReplyKeyboard(buttons...)
	kb.ResizeKeyboard = true
	return kb
}

// SendTyping sends the "typing" chat action.
func (s *TelegramService) SendTyping(ctx context.Context, to string) error {
	id, err := chatID(to)
	if err != nil {
		return err
	}
	if _, err := s.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram chat action to %s: %w", to, err)
	}
	return nil
}

// Start begins long polling. Updates are converted and queued until ctx ends or Stop is called.
func (s *TelegramService) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = TelegramPollTimeout
	updates := s.bot.GetUpdatesChan(u)
	slog.Info("TelegramService polling started")

	go func() {
		defer slog.Info("TelegramService polling stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				in, ok := s.toInbound(update.Message)
				if ok {
					s.inbox.emit(in)
				}
			}
		}
	}()
	return nil
}

// Stop ends polling and closes the inbound channel.
func (s *TelegramService) Stop() error {
	s.stop.Do(func() {
		s.bot.StopReceivingUpdates()
		s.inbox.close()
	})
	return nil
}

// Inbound returns received messages.
func (s *TelegramService) Inbound() <-chan models.Inbound {
	return s.inbox.ch
}

// toInbound converts an update without network calls; voice notes carry only their file id.
func (s *TelegramService) toInbound(msg *tgbotapi.Message) (models.Inbound, bool) {
	if msg.Chat == nil {
		return models.Inbound{}, false
	}
	in := models.Inbound{
		ID:   fmt.Sprintf("tg:%d:%d", msg.Chat.ID, msg.MessageID),
		From: strconv.FormatInt(msg.Chat.ID, 10),
		Time: int64(msg.Date),
	}
	if msg.From != nil {
		in.FirstName = msg.From.FirstName
		in.DisplayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		if in.DisplayName == "" {
			in.DisplayName = msg.From.UserName
		}
	}

	switch {
	case msg.IsCommand() && msg.Command() == "start":
		in.Kind = models.ContentStart
	case msg.Text != "":
		in.Kind = models.ContentText
		in.Text = msg.Text
	case msg.Voice != nil:
		in.Kind = models.ContentVoice
		in.AudioRef = msg.Voice.FileID
		in.AudioMIME = msg.Voice.MimeType
		if in.AudioMIME == "" {
			in.AudioMIME = "audio/ogg"
		}
	default:
		in.Kind = models.ContentUnsupported
	}
	return in, true
}

// FetchAudio downloads a voice note by file id.
func (s *TelegramService) FetchAudio(ctx context.Context, fileID string) ([]byte, error) {
	link, err := s.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: unexpected status %d", fileID, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxVoiceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	if len(data) > MaxVoiceBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fileID, MaxVoiceBytes)
	}
	return data, nil
}
