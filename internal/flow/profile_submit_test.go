package flow

import (
	"testing"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

func TestBuildProfile(t *testing.T) {
	base := []models.Field{
		models.FieldSex, models.FieldHeight, models.FieldMass,
		models.FieldEatsMeat, models.FieldEatsFish, models.FieldEatsDairy, models.FieldDescription,
	}
	withBirth := append([]models.Field{models.FieldBirthDate}, base...)

	tests := []struct {
		name        string
		required    []models.Field
		mutate      func(*models.Session)
		wantMinimal bool
		wantErr     bool
	}{
		{"all present", base, func(s *models.Session) {}, false, false},
		{"missing mass", base, func(s *models.Session) { delete(s.Answers, models.FieldMass) }, true, false},
		{"birth date required but absent", withBirth, func(s *models.Session) {}, true, false},
		{"birth date present", withBirth, func(s *models.Session) { s.SetAnswer(models.FieldBirthDate, "1990-03-15") }, false, false},
		{"height not a number", base, func(s *models.Session) { s.SetAnswer(models.FieldHeight, "1.7m") }, false, true},
		{"bad bool", base, func(s *models.Session) { s.SetAnswer(models.FieldEatsFish, "often") }, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sessionAt(models.StateCompleted, models.LanguageEnglish)
			fillProfile(s)
			s.SetAnswer(models.FieldDescription, "goals")
			tt.mutate(s)

			rec, err := buildProfile(s, tt.required)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", rec)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.IsMinimal() != tt.wantMinimal {
				t.Errorf("minimal = %v, want %v (%+v)", rec.IsMinimal(), tt.wantMinimal, rec)
			}
			if rec.PreferredLang != models.LanguageEnglish || rec.Name != "Ann" || rec.Description != "goals" {
				t.Errorf("identity fields = %+v", rec)
			}
		})
	}
}

func TestBuildProfileValues(t *testing.T) {
	s := sessionAt(models.StateCompleted, models.LanguageRussian)
	fillProfile(s)
	s.SetAnswer(models.FieldDescription, "d")
	rec, err := buildProfile(s, newTestMachine(nil).Fields())
	if err != nil {
		t.Fatal(err)
	}
	if rec.Sex != "F" || *rec.Height != 165 || *rec.Mass != 60 || !*rec.EatsMeat || !*rec.EatsFish || *rec.EatsDairy {
		t.Errorf("record = %+v", rec)
	}
	if rec.BirthDate != "" {
		t.Errorf("birth date = %q", rec.BirthDate)
	}
}
