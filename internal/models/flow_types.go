// Package models defines the conversation state and field identifiers shared across packages.
package models

// StateType represents a specific state within the coaching conversation.
type StateType string

// Field identifies one questionnaire answer stored on a session.
type Field string

// Language is a supported interface language code.
type Language string

// HookKind identifies a scheduler-driven event.
type HookKind string

// Conversation states.
const (
	StateLanguage      StateType = "language"
	StateProfileOrSkip StateType = "profile_or_skip"
	StateBirthDate     StateType = "birth_date"
	StateSex           StateType = "sex"
	StateHeight        StateType = "height"
	StateMass          StateType = "mass"
	StateEatsMeat      StateType = "eats_meat"
	StateEatsFish      StateType = "eats_fish"
	StateEatsDairy     StateType = "eats_dairy"
	StateDescription   StateType = "description"
	StateCompleted     StateType = "completed"
	StateConsulting    StateType = "consulting"

	StateInitialConsultationCompleted StateType = "initial_consultation_completed"

	// Daily check-in sub-flow.
	StateWaitingForNotes StateType = "waiting_for_notes"
	StateWaitingForLevel StateType = "waiting_for_level"
)

// AllStates lists every state in declaration order.
var AllStates = []StateType{
	StateLanguage, StateProfileOrSkip, StateBirthDate, StateSex, StateHeight, StateMass,
	StateEatsMeat, StateEatsFish, StateEatsDairy, StateDescription, StateCompleted,
	StateConsulting, StateInitialConsultationCompleted, StateWaitingForNotes, StateWaitingForLevel,
}

// IsValid reports whether s is a known state.
func (s StateType) IsValid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Questionnaire answer fields.
const (
	FieldBirthDate   Field = "birth_date"
	FieldSex         Field = "sex"
	FieldHeight      Field = "height"
	FieldMass        Field = "mass"
	FieldEatsMeat    Field = "eats_meat"
	FieldEatsFish    Field = "eats_fish"
	FieldEatsDairy   Field = "eats_dairy"
	FieldDescription Field = "description"
)

// Supported languages.
const (
	LanguageEnglish Language = "en"
	LanguageRussian Language = "ru"
)

// SupportedLanguages lists the languages offered on the language keyboard, in order.
var SupportedLanguages = []Language{LanguageEnglish, LanguageRussian}

// IsSupported reports whether the language has a translation table.
func (l Language) IsSupported() bool {
	for _, known := range SupportedLanguages {
		if l == known {
			return true
		}
	}
	return false
}

// Scheduler hook kinds.
const (
	HookAdvice     HookKind = "advice"
	HookDailyCheck HookKind = "daily_check"
)

// IsValid reports whether h is a known hook kind.
func (h HookKind) IsValid() bool {
	return h == HookAdvice || h == HookDailyCheck
}
