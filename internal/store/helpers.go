package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// sessionColumns is the column list shared by the SQL backends.
const sessionColumns = `user_id, display_name, first_name, state, language, answers, thread_id,
	advice_enrolled, daily_check_enrolled, daily_greeting, daily_notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// encodeAnswers converts the answers map to a JSON column value.
func encodeAnswers(answers map[models.Field]string) (string, error) {
	if len(answers) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("marshal answers: %w", err)
	}
	return string(data), nil
}

// sessionArgs returns the values for sessionColumns in order.
func sessionArgs(s models.Session) ([]any, error) {
	answers, err := encodeAnswers(s.Answers)
	if err != nil {
		return nil, err
	}
	return []any{
		s.UserID, s.DisplayName, s.FirstName, string(s.State), string(s.Language), answers, s.ThreadID,
		s.AdviceEnrolled, s.DailyCheckEnrolled, s.DailyGreeting, s.DailyNotes, s.CreatedAt, s.UpdatedAt,
	}, nil
}

// scanSession reads one row selected with sessionColumns.
func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var state, lang, answers string
	var threadID, greeting, notes sql.NullString
	err := row.Scan(
		&s.UserID, &s.DisplayName, &s.FirstName, &state, &lang, &answers, &threadID,
		&s.AdviceEnrolled, &s.DailyCheckEnrolled, &greeting, &notes, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.State = models.StateType(state)
	s.Language = models.Language(lang)
	s.ThreadID = threadID.String
	s.DailyGreeting = greeting.String
	s.DailyNotes = notes.String
	s.Answers = make(map[models.Field]string)
	if answers != "" {
		if err := json.Unmarshal([]byte(answers), &s.Answers); err != nil {
			// Keep the session usable; the questionnaire can be restarted.
			slog.Error("store: answers JSON unmarshal failed", "error", err, "userID", s.UserID)
			s.Answers = make(map[models.Field]string)
		}
	}
	return &s, nil
}

// collectSessions drains rows selected with sessionColumns.
func collectSessions(rows *sql.Rows) ([]models.Session, error) {
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}
