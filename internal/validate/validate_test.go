package validate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/locales"
	"github.com/BTreeMap/CoachPipe/internal/models"
)

var refNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func TestPastDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr error
	}{
		{"dotted", "01.02.1990", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), nil},
		{"iso", "1990-02-01", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), nil},
		{"us", "02/01/1990", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), nil},
		{"dotted unpadded", "1.2.1990", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), nil},
		{"iso unpadded", "1990-2-1", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), nil},
		{"us unpadded", "2/1/1990", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), nil},
		{"trimmed", "  1990-02-01 ", time.Date(1990, 2, 1, 0, 0, 0, 0, time.UTC), nil},
		{"future dotted", "01.02.2090", time.Time{}, ErrNotInPast},
		{"future iso", "2090-02-01", time.Time{}, ErrNotInPast},
		{"garbage", "yesterday", time.Time{}, ErrBadDate},
		{"impossible day", "31.02.1990", time.Time{}, ErrBadDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := PastDate(tt.input, refNow)
			if tt.wantErr != nil {
				if r.OK() {
					t.Fatalf("PastDate(%q) succeeded with %v", tt.input, r.Value)
				}
				if !errors.Is(r.Failure.Err, tt.wantErr) {
					t.Errorf("PastDate(%q) reason = %v, want %v", tt.input, r.Failure.Err, tt.wantErr)
				}
				return
			}
			if !r.OK() {
				t.Fatalf("PastDate(%q) failed: %v", tt.input, r.Failure)
			}
			if !r.Value.Equal(tt.want) {
				t.Errorf("PastDate(%q) = %v, want %v", tt.input, r.Value, tt.want)
			}
		})
	}
}

func TestPastDateFailureListsFormats(t *testing.T) {
	r := PastDate("not a date", refNow)
	if r.OK() {
		t.Fatal("expected failure")
	}
	msg := r.Failure.Message(models.LanguageEnglish)
	for _, f := range []string{"DD.MM.YYYY", "YYYY-MM-DD", "MM/DD/YYYY"} {
		if !strings.Contains(msg, f) {
			t.Errorf("failure message %q does not list %s", msg, f)
		}
	}
}

func TestSexChoice(t *testing.T) {
	for _, lang := range models.SupportedLanguages {
		want := map[string]string{
			locales.T(locales.KeyMale, lang):   SexMale,
			locales.T(locales.KeyFemale, lang): SexFemale,
			locales.T(locales.KeyOther, lang):  SexOther,
		}
		for label, code := range want {
			r := Choice(label, SexOptions(lang), locales.KeyYesOrNo)
			if !r.OK() || r.Value != code {
				t.Errorf("Choice(%q) = %+v, want %s", label, r, code)
			}
		}
	}
	if r := Choice("male", SexOptions(models.LanguageEnglish), locales.KeyYesOrNo); r.OK() {
		t.Error("label match must be exact")
	}
}

func TestYesNoChoice(t *testing.T) {
	if r := Choice("👍 Yes", YesNoOptions(models.LanguageEnglish), locales.KeyYesOrNo); !r.OK() || !r.Value {
		t.Errorf("yes = %+v", r)
	}
	if r := Choice("🙅 Нет", YesNoOptions(models.LanguageRussian), locales.KeyYesOrNo); !r.OK() || r.Value {
		t.Errorf("no/ru = %+v", r)
	}
	r := Choice("maybe", YesNoOptions(models.LanguageEnglish), locales.KeyYesOrNo)
	if r.OK() || r.Failure.Key != locales.KeyYesOrNo {
		t.Errorf("maybe = %+v", r)
	}
}

func TestLanguage(t *testing.T) {
	if r := Language("🇷🇺 Русский"); !r.OK() || r.Value != models.LanguageRussian {
		t.Errorf("Language(ru label) = %+v", r)
	}
	if r := Language("English"); r.OK() {
		t.Error("partial label should be rejected")
	}
}

func TestHeight(t *testing.T) {
	en := models.LanguageEnglish
	avg := locales.T(locales.KeyHeightAverage, en)
	if r := Height(avg, en, SexFemale); !r.OK() || r.Value != 165 {
		t.Errorf("average/F = %+v", r)
	}
	if r := Height(avg, en, SexMale); !r.OK() || r.Value != 175 {
		t.Errorf("average/M = %+v", r)
	}
	if r := Height("182", en, SexMale); !r.OK() || r.Value != 182 {
		t.Errorf("182 = %+v", r)
	}
	for _, bad := range []string{"49", "300", "tall-ish", "1.8"} {
		if r := Height(bad, en, SexMale); r.OK() {
			t.Errorf("Height(%q) should fail", bad)
		}
	}
}

func TestMass(t *testing.T) {
	en := models.LanguageEnglish
	avg := locales.T(locales.KeyMassAverage, en)
	if r := Mass(avg, en, 180); !r.OK() || r.Value != 71 {
		t.Errorf("average at 180cm = %+v, want 71", r)
	}
	if r := Mass(locales.T(locales.KeyMassLow, en), en, 165); !r.OK() || r.Value != 52 {
		t.Errorf("low at 165cm = %+v, want 52", r)
	}
	r := Mass(avg, en, 0)
	if r.OK() || !errors.Is(r.Failure.Err, ErrHeightRequired) {
		t.Errorf("quick-pick without height = %+v", r)
	}
	if r := Mass("2", en, 0); !r.OK() || r.Value != 2 {
		t.Errorf("numeric mass without height = %+v", r)
	}
	for _, bad := range []string{"1", "1000", "seventy"} {
		if r := Mass(bad, en, 180); r.OK() {
			t.Errorf("Mass(%q) should fail", bad)
		}
	}
}

func TestLevel(t *testing.T) {
	if r := Level("3"); !r.OK() || r.Value != 3 {
		t.Errorf("Level(3) = %+v", r)
	}
	if r := Level("6"); r.OK() {
		t.Error("Level(6) should fail")
	}
	if got := strings.Join(LevelOptions(), ""); got != "12345" {
		t.Errorf("LevelOptions() = %q", got)
	}
}
