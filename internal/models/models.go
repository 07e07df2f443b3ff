// Package models contains shared data structures for CoachPipe.
//
// It covers inbound transport events, outgoing replies, backend payloads and API responses.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ContentKind classifies an inbound message.
type ContentKind string

const (
	// ContentText is a plain text message.
	ContentText ContentKind = "text"
	// ContentVoice is a voice note carrying audio bytes.
	ContentVoice ContentKind = "voice"
	// ContentStart is the explicit restart command.
	ContentStart ContentKind = "start"
	// ContentUnsupported covers photos, stickers, documents and the like.
	ContentUnsupported ContentKind = "unsupported"
)

// Inbound is a message received from a transport.
type Inbound struct {
	ID          string      `json:"id"`
	From        string      `json:"from"`
	DisplayName string      `json:"display_name,omitempty"`
	FirstName   string      `json:"first_name,omitempty"`
	Kind        ContentKind `json:"kind"`
	Text        string      `json:"text,omitempty"`
	Audio       []byte      `json:"-"`
	// AudioRef names audio the transport fetches later; Audio stays empty until then.
	AudioRef  string `json:"audio_ref,omitempty"`
	AudioMIME string `json:"audio_mime,omitempty"`
	Time      int64  `json:"time"`
}

// Validate checks that the inbound message carries what its kind requires.
func (in Inbound) Validate() error {
	if in.From == "" {
		return errors.New("sender is required")
	}
	switch in.Kind {
	case ContentText, ContentStart, ContentUnsupported:
		return nil
	case ContentVoice:
		if len(in.Audio) == 0 {
			return errors.New("voice message has no audio")
		}
		return nil
	default:
		return fmt.Errorf("unknown content kind %q", in.Kind)
	}
}

// Markup selects how a transport should render reply text.
type Markup string

const (
	MarkupPlain    Markup = ""
	MarkupMarkdown Markup = "markdown"
	MarkupHTML     Markup = "html"
)

// Reply is one outgoing message. Keyboard holds quick-reply rows; RemoveKeyboard asks the
// transport to hide a previously shown keyboard.
type Reply struct {
	Text           string     `json:"text"`
	Keyboard       [][]string `json:"keyboard,omitempty"`
	RemoveKeyboard bool       `json:"remove_keyboard,omitempty"`
	Markup         Markup     `json:"markup,omitempty"`
}

// HasKeyboard reports whether the reply carries quick-reply options.
func (r Reply) HasKeyboard() bool {
	for _, row := range r.Keyboard {
		if len(row) > 0 {
			return true
		}
	}
	return false
}

// Options flattens the keyboard rows into a single ordered list.
func (r Reply) Options() []string {
	var out []string
	for _, row := range r.Keyboard {
		out = append(out, row...)
	}
	return out
}

// ProfileRecord is the snapshot submitted to the backend. Unset optional fields are omitted,
// which yields the minimal {preferred_lang, name, description} record.
type ProfileRecord struct {
	PreferredLang Language `json:"preferred_lang"`
	Name          string   `json:"name"`
	BirthDate     string   `json:"birth_date,omitempty"`
	Sex           string   `json:"sex,omitempty"`
	Mass          *int     `json:"mass,omitempty"`
	Height        *int     `json:"height,omitempty"`
	EatsMeat      *bool    `json:"eats_meat,omitempty"`
	EatsFish      *bool    `json:"eats_fish,omitempty"`
	EatsDairy     *bool    `json:"eats_dairy,omitempty"`
	Description   string   `json:"description,omitempty"`
}

// IsMinimal reports whether the record carries only language, name and description.
func (p ProfileRecord) IsMinimal() bool {
	return p.BirthDate == "" && p.Sex == "" && p.Mass == nil && p.Height == nil &&
		p.EatsMeat == nil && p.EatsFish == nil && p.EatsDairy == nil
}

// Registration describes the backend user created on language selection.
type Registration struct {
	Email         string   `json:"email"`
	Password      string   `json:"password"`
	FullName      string   `json:"full_name"`
	ExternalID    string   `json:"external_id"`
	PreferredLang Language `json:"preferred_lang"`
}

// ChatTurn is the backend's answer to a consultation call.
type ChatTurn struct {
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text"`
}

// RemoteProfile is the subset of the backend profile the bot reads back.
type RemoteProfile struct {
	PreferredLang Language `json:"preferred_lang"`
	Name          string   `json:"name,omitempty"`
}

// HookRun records a scheduler hook firing, returned by the admin API.
type HookRun struct {
	UserID  string    `json:"user_id"`
	Hook    HookKind  `json:"hook"`
	FiredAt time.Time `json:"fired_at"`
	State   StateType `json:"state"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}
