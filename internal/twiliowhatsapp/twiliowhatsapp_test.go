package twiliowhatsapp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "12345", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(WithFromWhats("whatsapp:+100")); err == nil {
		t.Error("expected error without SID and token")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("whatsapp:+100"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.fromWhats != "whatsapp:+100" {
		t.Errorf("fromWhats = %q", c.fromWhats)
	}
}

func TestFetchMedia(t *testing.T) {
	audio := []byte("OggS-voice")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/media/ME1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/ogg")
		w.Write(audio)
	}))
	defer srv.Close()

	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("whatsapp:+100"), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	data, mime, err := c.FetchMedia(context.Background(), srv.URL+"/media/ME1")
	if err != nil {
		t.Fatalf("FetchMedia: %v", err)
	}
	if !bytes.Equal(data, audio) || mime != "audio/ogg" {
		t.Errorf("got %q %q", data, mime)
	}

	if _, _, err := c.FetchMedia(context.Background(), srv.URL+"/media/missing"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestFetchMediaTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, MaxMediaBytes+10))
	}))
	defer srv.Close()

	_, _, err := fetchMedia(context.Background(), srv.Client(), srv.URL, "u", "p")
	if !errors.Is(err, ErrMediaTooLarge) {
		t.Errorf("err = %v, want ErrMediaTooLarge", err)
	}
}
