// Package validate implements the pure input validators used by the questionnaire.
//
// Validators never panic and never return Go errors for bad user input. They return a Result
// carrying either the typed value or a Failure that names the localized re-prompt.
package validate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

// Numeric bounds for free-form answers.
const (
	MinHeightCM = 50
	MaxHeightCM = 299
	MinMassKG   = 2
	MaxMassKG   = 999
	MinLevel    = 1
	MaxLevel    = 5
)

// BMI anchors for the mass quick-picks.
const (
	BMILow     = 19.0
	BMIAverage = 22.0
	BMIHigh    = 26.0
)

// Sex codes stored on the session.
const (
	SexMale   = "M"
	SexFemale = "F"
	SexOther  = "O"
)

// Reasons a validator can reject input.
var (
	ErrNoMatch        = errors.New("input does not match any option")
	ErrNotANumber     = errors.New("input is not a whole number")
	ErrOutOfRange     = errors.New("number out of range")
	ErrBadDate        = errors.New("date does not match any accepted format")
	ErrNotInPast      = errors.New("date is not in the past")
	ErrHeightRequired = errors.New("height is required for a mass estimate")
)

// Failure describes a rejected answer: the locale key and arguments for the re-prompt and the
// underlying reason.
type Failure struct {
	Key  string
	Args []any
	Err  error
}

// Message renders the re-prompt in lang.
func (f *Failure) Message(lang models.Language) string {
	if len(f.Args) == 0 {
		return locales.T(f.Key, lang)
	}
	return locales.Tf(f.Key, lang, f.Args...)
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Key, f.Err)
}

// Result is either a value or a Failure.
type Result[T any] struct {
	Value   T
	Failure *Failure
}

// OK reports whether validation succeeded.
func (r Result[T]) OK() bool {
	return r.Failure == nil
}

func ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func fail[T any](key string, err error, args ...any) Result[T] {
	return Result[T]{Failure: &Failure{Key: key, Args: args, Err: err}}
}

// Option pairs a keyboard label with the value it stands for.
type Option[T any] struct {
	Label string
	Value T
}

// Labels returns the option labels in order.
func Labels[T any](opts []Option[T]) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Label
	}
	return out
}

// Choice matches input exactly against the option labels.
func Choice[T any](input string, opts []Option[T], failKey string) Result[T] {
	for _, o := range opts {
		if input == o.Label {
			return ok(o.Value)
		}
	}
	return fail[T](failKey, ErrNoMatch)
}

// Language matches a language keyboard label.
func Language(input string) Result[models.Language] {
	opts := make([]Option[models.Language], 0, len(models.SupportedLanguages))
	for _, lang := range models.SupportedLanguages {
		opts = append(opts, Option[models.Language]{Label: locales.LanguageLabel(lang), Value: lang})
	}
	return Choice(input, opts, locales.KeyLanguageUnsupported)
}

// SexOptions returns the localized sex choices.
func SexOptions(lang models.Language) []Option[string] {
	return []Option[string]{
		{Label: locales.T(locales.KeyMale, lang), Value: SexMale},
		{Label: locales.T(locales.KeyFemale, lang), Value: SexFemale},
		{Label: locales.T(locales.KeyOther, lang), Value: SexOther},
	}
}

// YesNoOptions returns the localized yes/no choices.
func YesNoOptions(lang models.Language) []Option[bool] {
	return []Option[bool]{
		{Label: locales.T(locales.KeyYes, lang), Value: true},
		{Label: locales.T(locales.KeyNo, lang), Value: false},
	}
}

// ProfileOrSkipOptions returns the choices offered after language selection when the
// birth-date arm is enabled. True means fill out the profile.
func ProfileOrSkipOptions(lang models.Language) []Option[bool] {
	return []Option[bool]{
		{Label: locales.T(locales.KeyProfile, lang), Value: true},
		{Label: locales.T(locales.KeySkip, lang), Value: false},
	}
}

// Date layouts in the order they are tried.
var dateLayouts = []struct {
	layout string
	human  string
}{
	{"2.1.2006", "DD.MM.YYYY"},
	{"2006-1-2", "YYYY-MM-DD"},
	{"1/2/2006", "MM/DD/YYYY"},
}

// AcceptedDateFormats is the human-readable list shown when a date is rejected.
func AcceptedDateFormats() string {
	names := make([]string, len(dateLayouts))
	for i, l := range dateLayouts {
		names[i] = l.human
	}
	return strings.Join(names, ", ")
}

// PastDate parses input with each accepted layout in order. The first layout that parses
// decides the outcome; a parsed date that is not strictly before now is rejected without
// trying the remaining layouts.
func PastDate(input string, now time.Time) Result[time.Time] {
	input = strings.TrimSpace(input)
	for _, l := range dateLayouts {
		t, err := time.ParseInLocation(l.layout, input, now.Location())
		if err != nil {
			continue
		}
		if !t.Before(now) {
			return fail[time.Time](locales.KeyBirthDateInvalid, ErrNotInPast, AcceptedDateFormats())
		}
		return ok(t)
	}
	return fail[time.Time](locales.KeyBirthDateInvalid, ErrBadDate, AcceptedDateFormats())
}

// HeightQuickPicks returns the short/average/tall options for sex. Unknown or "other" sex uses
// the midpoint between the male and female figures.
func HeightQuickPicks(lang models.Language, sex string) []Option[int] {
	short, avg, tall := 160, 170, 180
	switch sex {
	case SexFemale:
		short, avg, tall = 155, 165, 175
	case SexMale:
		short, avg, tall = 165, 175, 185
	}
	return []Option[int]{
		{Label: locales.T(locales.KeyHeightShort, lang), Value: short},
		{Label: locales.T(locales.KeyHeightAverage, lang), Value: avg},
		{Label: locales.T(locales.KeyHeightTall, lang), Value: tall},
	}
}

// Height accepts a quick-pick label or a whole number of centimetres.
func Height(input string, lang models.Language, sex string) Result[int] {
	if r := Choice(input, HeightQuickPicks(lang, sex), locales.KeyHeightInvalid); r.OK() {
		return r
	}
	return wholeNumber(input, MinHeightCM, MaxHeightCM, locales.KeyHeightInvalid)
}

// MassQuickPicks returns the low/average/high labels with the BMI each stands for.
func MassQuickPicks(lang models.Language) []Option[float64] {
	return []Option[float64]{
		{Label: locales.T(locales.KeyMassLow, lang), Value: BMILow},
		{Label: locales.T(locales.KeyMassAverage, lang), Value: BMIAverage},
		{Label: locales.T(locales.KeyMassHigh, lang), Value: BMIHigh},
	}
}

// MassFromBMI returns round(bmi * height_m^2).
func MassFromBMI(bmi float64, heightCM int) int {
	m := float64(heightCM) / 100
	return int(math.Round(bmi * m * m))
}

// Mass accepts a quick-pick label or a whole number of kilograms. A quick-pick needs the
// height; heightCM <= 0 means the height is unknown.
func Mass(input string, lang models.Language, heightCM int) Result[int] {
	if r := Choice(input, MassQuickPicks(lang), locales.KeyMassInvalid); r.OK() {
		if heightCM <= 0 {
			return fail[int](locales.KeyMassNeedsHeight, ErrHeightRequired)
		}
		return ok(MassFromBMI(r.Value, heightCM))
	}
	return wholeNumber(input, MinMassKG, MaxMassKG, locales.KeyMassInvalid)
}

// Level accepts the daily energy level, 1 to 5.
func Level(input string) Result[int] {
	r := wholeNumber(input, MinLevel, MaxLevel, locales.KeyLevelInvalid)
	if !r.OK() {
		r.Failure.Args = nil
	}
	return r
}

// LevelOptions returns the level keyboard labels.
func LevelOptions() []string {
	out := make([]string, 0, MaxLevel-MinLevel+1)
	for i := MinLevel; i <= MaxLevel; i++ {
		out = append(out, strconv.Itoa(i))
	}
	return out
}

func wholeNumber(input string, lo, hi int, failKey string) Result[int] {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return fail[int](failKey, ErrNotANumber, lo, hi)
	}
	if n < lo || n > hi {
		return fail[int](failKey, ErrOutOfRange, lo, hi)
	}
	return ok(n)
}
