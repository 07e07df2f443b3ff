package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestInboundValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Inbound
		wantErr bool
	}{
		{"text", Inbound{From: "42", Kind: ContentText, Text: "hi"}, false},
		{"start", Inbound{From: "42", Kind: ContentStart}, false},
		{"voice with audio", Inbound{From: "42", Kind: ContentVoice, Audio: []byte{1}}, false},
		{"voice without audio", Inbound{From: "42", Kind: ContentVoice}, true},
		{"missing sender", Inbound{Kind: ContentText}, true},
		{"unknown kind", Inbound{From: "42", Kind: "sticker"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMinimalProfileRecordJSON(t *testing.T) {
	p := ProfileRecord{PreferredLang: LanguageEnglish, Name: "Ann", Description: "run more"}
	if !p.IsMinimal() {
		t.Fatal("expected minimal record")
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{"mass", "height", "sex", "birth_date", "eats_meat"} {
		if strings.Contains(string(data), key) {
			t.Errorf("minimal record contains %q: %s", key, data)
		}
	}
}

func TestSessionRestartKeepsIdentity(t *testing.T) {
	now := time.Now()
	s := NewSession("42", now)
	s.DisplayName = "Ann Lee"
	s.Language = LanguageRussian
	s.State = StateConsulting
	s.ThreadID = "th_1"
	s.AdviceEnrolled = true
	s.SetAnswer(FieldMass, "70")

	s.Restart(now)

	if s.State != StateLanguage || s.Language != "" || s.ThreadID != "" || s.AdviceEnrolled {
		t.Errorf("restart left stale data: %+v", s)
	}
	if _, ok := s.Answer(FieldMass); ok {
		t.Error("answers should be cleared")
	}
	if s.UserID != "42" || s.DisplayName != "Ann Lee" {
		t.Error("identity fields should survive restart")
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession("42", time.Now())
	s.SetAnswer(FieldSex, "F")
	c := s.Clone()
	c.SetAnswer(FieldSex, "M")
	if v, _ := s.Answer(FieldSex); v != "F" {
		t.Errorf("clone shares answers map, got %q", v)
	}
}

func TestReplyOptions(t *testing.T) {
	r := Reply{Keyboard: [][]string{{"a", "b"}, {}, {"c"}}}
	if !r.HasKeyboard() {
		t.Fatal("expected keyboard")
	}
	if got := strings.Join(r.Options(), ","); got != "a,b,c" {
		t.Errorf("Options() = %q", got)
	}
	if (Reply{Keyboard: [][]string{{}}}).HasKeyboard() {
		t.Error("empty rows should not count as a keyboard")
	}
}

func TestStateAndHookValidity(t *testing.T) {
	if !StateWaitingForLevel.IsValid() || StateType("nope").IsValid() {
		t.Error("StateType.IsValid mismatch")
	}
	if !HookAdvice.IsValid() || HookKind("weekly").IsValid() {
		t.Error("HookKind.IsValid mismatch")
	}
	if !LanguageRussian.IsSupported() || Language("de").IsSupported() {
		t.Error("Language.IsSupported mismatch")
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("Error() = %+v", r)
	}
	if r := Success(1); r.Status != string(APIStatusOK) || r.Result != 1 {
		t.Errorf("Success() = %+v", r)
	}
}
