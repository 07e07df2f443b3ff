// Package locales holds the static translation table for user-facing text.
package locales

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/CoachPipe/internal/models"
	"gopkg.in/yaml.v3"
)

// Message keys used by the conversation flow.
const (
	KeyLanguageLabel        = "language_label"
	KeyGreeting             = "greeting"
	KeyLanguageUnsupported  = "language_unsupported"
	KeyProfileOrSkip        = "profile_or_skip"
	KeyProfile              = "profile"
	KeySkip                 = "skip"
	KeyBirthDate            = "birth_date"
	KeyBirthDateInvalid     = "birth_date_invalid"
	KeySex                  = "sex"
	KeyMale                 = "male"
	KeyFemale               = "female"
	KeyOther                = "other"
	KeyHeight               = "height"
	KeyHeightShort          = "height_short"
	KeyHeightAverage        = "height_average"
	KeyHeightTall           = "height_tall"
	KeyHeightInvalid        = "height_invalid"
	KeyMass                 = "mass"
	KeyMassLow              = "mass_low"
	KeyMassAverage          = "mass_average"
	KeyMassHigh             = "mass_high"
	KeyMassInvalid          = "mass_invalid"
	KeyMassNeedsHeight      = "mass_needs_height"
	KeyEatsMeat             = "eats_meat"
	KeyEatsFish             = "eats_fish"
	KeyEatsDairy            = "eats_dairy"
	KeyYes                  = "yes"
	KeyNo                   = "no"
	KeyYesOrNo              = "yes_or_no"
	KeyDescription          = "description"
	KeySavingInfo           = "saving_info"
	KeyCompleted            = "completed"
	KeyProfileRetry         = "profile_retry"
	KeyCompleteConsultation = "complete_consultation"
	KeyGenericError         = "generic_error"
	KeyUnsupportedContent   = "unsupported_content"
	KeyDailyGreeting        = "daily_greeting"
	KeyDailyLevel           = "daily_level"
	KeyLevelInvalid         = "level_invalid"
)

//go:embed messages.yaml
var rawMessages []byte

// Table maps a message key to its per-language text.
type Table map[string]map[models.Language]string

var defaultTable Table

func init() {
	t, err := Load(rawMessages)
	if err != nil {
		panic(fmt.Sprintf("failed to load embedded messages: %v", err))
	}
	defaultTable = t
}

// Load parses a YAML translation table and checks that every key covers every supported language.
func Load(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	for key, byLang := range t {
		for _, lang := range models.SupportedLanguages {
			if byLang[lang] == "" {
				return nil, fmt.Errorf("message %q has no %q translation", key, lang)
			}
		}
	}
	return t, nil
}

// T returns the text for key in lang, falling back to English and then to the key itself.
func T(key string, lang models.Language) string {
	return defaultTable.Get(key, lang)
}

// Tf formats the text for key in lang with args.
func Tf(key string, lang models.Language, args ...any) string {
	return fmt.Sprintf(T(key, lang), args...)
}

// Get looks up key in the table.
func (t Table) Get(key string, lang models.Language) string {
	byLang, ok := t[key]
	if !ok {
		slog.Warn("locales: missing message key", "key", key)
		return key
	}
	if s, ok := byLang[lang]; ok && s != "" {
		return s
	}
	return byLang[models.LanguageEnglish]
}

// Keys returns all message keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaultTable))
	for k := range defaultTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LanguageLabel returns the keyboard label for a language, e.g. "🇬🇧 English".
func LanguageLabel(lang models.Language) string {
	return T(KeyLanguageLabel, lang)
}

// LanguageKeyboard returns one row with every supported language label.
func LanguageKeyboard() [][]string {
	row := make([]string, 0, len(models.SupportedLanguages))
	for _, lang := range models.SupportedLanguages {
		row = append(row, LanguageLabel(lang))
	}
	return [][]string{row}
}
