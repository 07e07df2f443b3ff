package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrNoThread is returned when the backend starts a conversation without a thread id.
var ErrNoThread = errors.New("backend: response carried no thread id")

func chatPath(email string, parts ...string) string {
	p := "/chat/" + url.PathEscape(email)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// StartChat opens a consultation thread.
func (c *Client) StartChat(ctx context.Context, email string) (models.ChatTurn, error) {
	var turn models.ChatTurn
	if err := c.do(ctx, retryDialOnly, http.MethodGet, chatPath(email, "start"), nil, nil, &turn); err != nil {
		return turn, fmt.Errorf("start chat: %w", err)
	}
	if turn.ThreadID == "" {
		return turn, ErrNoThread
	}
	return turn, nil
}

// SendMessage relays one user turn on an existing thread.
func (c *Client) SendMessage(ctx context.Context, email, threadID, text string) (models.ChatTurn, error) {
	var turn models.ChatTurn
	q := url.Values{"text": {text}}
	if err := c.do(ctx, retryDialOnly, http.MethodGet, chatPath(email, "message", threadID), q, nil, &turn); err != nil {
		return turn, fmt.Errorf("send message: %w", err)
	}
	return turn, nil
}

// CompleteChat closes a consultation thread and returns the closing summary.
func (c *Client) CompleteChat(ctx context.Context, email, threadID string) (models.ChatTurn, error) {
	var turn models.ChatTurn
	if err := c.do(ctx, retryDialOnly, http.MethodGet, chatPath(email, "complete", threadID), nil, nil, &turn); err != nil {
		return turn, fmt.Errorf("complete chat: %w", err)
	}
	return turn, nil
}

// DailyAdvice submits a daily check-in and returns the advice with the thread it lives on.
func (c *Client) DailyAdvice(ctx context.Context, email, greeting, notes string, level int) (models.ChatTurn, error) {
	var turn models.ChatTurn
	q := url.Values{
		"greeting": {greeting},
		"notes":    {notes},
		"level":    {strconv.Itoa(level)},
	}
	if err := c.do(ctx, retryDialOnly, http.MethodGet, chatPath(email, "daily"), q, nil, &turn); err != nil {
		return turn, fmt.Errorf("daily advice: %w", err)
	}
	return turn, nil
}

type adviceCount struct {
	Count int `json:"count"`
}

// AdvicePieceCount returns how many advice pieces are still queued for the user.
func (c *Client) AdvicePieceCount(ctx context.Context, email string) (int, error) {
	var out adviceCount
	if err := c.do(ctx, retryReads, http.MethodGet, "/advice/"+url.PathEscape(email)+"/count", nil, nil, &out); err != nil {
		return 0, fmt.Errorf("advice count: %w", err)
	}
	return out.Count, nil
}

// NextAdvicePiece pops the next queued advice piece.
func (c *Client) NextAdvicePiece(ctx context.Context, email string) (string, error) {
	var turn models.ChatTurn
	if err := c.do(ctx, retryDialOnly, http.MethodGet, "/advice/"+url.PathEscape(email)+"/next", nil, nil, &turn); err != nil {
		return "", fmt.Errorf("next advice: %w", err)
	}
	return turn.Text, nil
}
