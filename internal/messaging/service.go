// Package messaging connects chat transports to the conversation dispatcher.
//
// Each transport turns platform updates into models.Inbound values and renders models.Reply
// values back, including quick-reply keyboards.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Constants for transport configuration
const (
	// DefaultChannelBufferSize is the buffer size of the inbound channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit waits on a full inbound channel
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a chat transport.
type Service interface {
	// Name identifies the transport in logs and dummy emails ("tg", "wa", "twilio").
	Name() string

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendReply delivers one reply, rendering its keyboard the way the platform allows.
	SendReply(ctx context.Context, to string, reply models.Reply) error

	// SendTyping shows a typing indicator; transports without one return nil.
	SendTyping(ctx context.Context, to string) error

	// Start begins receiving messages.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the inbound channel.
	Stop() error

	// Inbound returns the channel of received messages.
	Inbound() <-chan models.Inbound
}

// AudioFetcher is implemented by transports that emit voice notes as references
// (models.Inbound.AudioRef) and download them on demand.
type AudioFetcher interface {
	FetchAudio(ctx context.Context, ref string) ([]byte, error)
}

// canonicalPhone strips everything but digits and requires at least six of them.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// isStartCommand reports whether text is the restart command on transports without native
// commands.
func isStartCommand(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "/start")
}

// inbox is the inbound channel shared by the transports. Emits after close are dropped.
type inbox struct {
	name    string
	mu      sync.RWMutex
	ch      chan models.Inbound
	closed  bool
	timeout time.Duration
}

func newInbox(name string) *inbox {
	return &inbox{
		name:    name,
		ch:      make(chan models.Inbound, DefaultChannelBufferSize),
		timeout: DefaultChannelTimeout,
	}
}

func (b *inbox) emit(in models.Inbound) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		slog.Warn("messaging inbox closed, dropping message", "service", b.name, "from", in.From)
		return false
	}
	select {
	case b.ch <- in:
		slog.Debug("messaging inbound message queued", "service", b.name, "from", in.From, "kind", in.Kind)
		return true
	case <-time.After(b.timeout):
		slog.Warn("messaging inbound channel blocked, dropping message", "service", b.name, "from", in.From, "timeout", b.timeout)
		return false
	}
}

func (b *inbox) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
