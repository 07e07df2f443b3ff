package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("COACHPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("COACHPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Hour},
		{"30m", 30 * time.Minute},
		{"bogus", time.Hour},
		{"-5m", time.Hour},
	}
	for _, tt := range tests {
		t.Setenv("COACHPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("COACHPIPE_TEST_DURATION", time.Hour); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("COACHPIPE_A", "")
	t.Setenv("COACHPIPE_B", "b")
	t.Setenv("COACHPIPE_C", "c")
	if got := FirstEnv("COACHPIPE_A", "COACHPIPE_B", "COACHPIPE_C"); got != "b" {
		t.Errorf("FirstEnv = %q, want b", got)
	}
	if got := FirstEnv("COACHPIPE_A"); got != "" {
		t.Errorf("FirstEnv = %q, want empty", got)
	}
}
