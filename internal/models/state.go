// Package models defines state management structures for coaching sessions.
package models

import "time"

// Session is the per-user conversation record. It is created on first contact or on an
// explicit restart and is mutated by every transition.
type Session struct {
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name,omitempty"`
	FirstName   string           `json:"first_name,omitempty"`
	State       StateType        `json:"state"`
	Language    Language         `json:"language,omitempty"`
	Answers     map[Field]string `json:"answers,omitempty"`
	ThreadID    string           `json:"thread_id,omitempty"`

	AdviceEnrolled     bool   `json:"advice_enrolled,omitempty"`
	DailyCheckEnrolled bool   `json:"daily_check_enrolled,omitempty"`
	DailyGreeting      string `json:"daily_greeting,omitempty"`
	DailyNotes         string `json:"daily_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns a fresh session positioned at the language prompt.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:    userID,
		State:     StateLanguage,
		Answers:   make(map[Field]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Answer returns the stored answer for a field and whether it is present.
func (s *Session) Answer(f Field) (string, bool) {
	if s.Answers == nil {
		return "", false
	}
	v, ok := s.Answers[f]
	return v, ok && v != ""
}

// SetAnswer stores an answer, allocating the map if needed.
func (s *Session) SetAnswer(f Field, v string) {
	if s.Answers == nil {
		s.Answers = make(map[Field]string)
	}
	s.Answers[f] = v
}

// Restart discards everything collected so far and returns the session to the language prompt.
// Identity fields are kept.
func (s *Session) Restart(now time.Time) {
	s.State = StateLanguage
	s.Language = ""
	s.Answers = make(map[Field]string)
	s.ThreadID = ""
	s.AdviceEnrolled = false
	s.DailyCheckEnrolled = false
	s.DailyGreeting = ""
	s.DailyNotes = ""
	s.UpdatedAt = now
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Answers = make(map[Field]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}
