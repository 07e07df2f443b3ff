package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

const testEmail = "tg.42@dummy.com"

// fakeBackend records calls and serves a tiny in-memory version of the API.
type fakeBackend struct {
	mu         sync.Mutex
	calls      []string
	userExists bool
	profile    map[string]any
	bodies     []map[string]any
	apiKeys    []string
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/email/{email}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if !f.userExists {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "email": r.PathValue("email")})
	})
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.userExists = true
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/users/7/profile", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		switch r.Method {
		case http.MethodGet:
			if f.profile == nil {
				http.NotFound(w, r)
				return
			}
			json.NewEncoder(w).Encode(f.profile)
		case http.MethodPost, http.MethodPatch:
			f.profile = f.bodies[len(f.bodies)-1]
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("GET /chat/{email}/start", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(models.ChatTurn{ThreadID: "th_1", Text: "Hi! Tell me about your day."})
	})
	mux.HandleFunc("GET /chat/{email}/message/{thread}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(models.ChatTurn{Text: "echo:" + r.PathValue("thread") + ":" + r.URL.Query().Get("text")})
	})
	mux.HandleFunc("GET /chat/{email}/complete/{thread}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(models.ChatTurn{Text: "summary"})
	})
	mux.HandleFunc("GET /chat/{email}/daily", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		q := r.URL.Query()
		json.NewEncoder(w).Encode(models.ChatTurn{ThreadID: "th_daily", Text: q.Get("notes") + "/" + q.Get("level")})
	})
	mux.HandleFunc("GET /advice/{email}/count", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(map[string]int{"count": 3})
	})
	mux.HandleFunc("GET /advice/{email}/next", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(models.ChatTurn{Text: "drink water"})
	})
	mux.HandleFunc("GET /profiles/email/{email}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(map[string]string{"preferred_lang": "ru"})
	})
	return mux
}

func (f *fakeBackend) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.apiKeys = append(f.apiKeys, r.Header.Get(APIKeyHeader))
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			var m map[string]any
			json.Unmarshal(data, &m)
			f.bodies = append(f.bodies, m)
		}
	}
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(WithEndpoint(srv.URL+"/"), WithAPIKey("secret"), WithRetryBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestUpsertUserCreatesWhenMissing(t *testing.T) {
	fb := &fakeBackend{}
	c := newTestClient(t, fb.handler())

	err := c.UpsertUser(context.Background(), models.Registration{Email: testEmail, FullName: "Ann Lee"})
	if err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	want := []string{"GET /users/email/" + testEmail, "POST /users"}
	if strings.Join(fb.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", fb.calls, want)
	}
	body := fb.bodies[0]
	if body["email"] != testEmail || body["full_name"] != "Ann Lee" {
		t.Errorf("create body = %v", body)
	}
	if pw, _ := body["password"].(string); !strings.HasPrefix(pw, "generated_pass_") {
		t.Errorf("password = %q, want generated", pw)
	}
	for _, k := range fb.apiKeys {
		if k != "secret" {
			t.Errorf("api key header = %q", k)
		}
	}
}

func TestUpsertUserSkipsExisting(t *testing.T) {
	fb := &fakeBackend{userExists: true}
	c := newTestClient(t, fb.handler())
	if err := c.UpsertUser(context.Background(), models.Registration{Email: testEmail}); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	if len(fb.calls) != 1 {
		t.Errorf("calls = %v, want only the lookup", fb.calls)
	}
}

func TestUpsertProfileCreateThenPatch(t *testing.T) {
	fb := &fakeBackend{userExists: true}
	c := newTestClient(t, fb.handler())
	ctx := context.Background()

	mass := 70
	rec := models.ProfileRecord{PreferredLang: models.LanguageEnglish, Name: "Ann", Mass: &mass, Description: "fit"}
	if err := c.UpsertProfile(ctx, testEmail, rec); err != nil {
		t.Fatalf("first UpsertProfile error: %v", err)
	}
	if err := c.UpsertProfile(ctx, testEmail, rec); err != nil {
		t.Fatalf("second UpsertProfile error: %v", err)
	}
	joined := strings.Join(fb.calls, ",")
	if !strings.Contains(joined, "POST /users/7/profile") || !strings.Contains(joined, "PATCH /users/7/profile") {
		t.Errorf("expected create then patch, calls = %v", fb.calls)
	}
	if fb.profile["mass"] != float64(70) {
		t.Errorf("stored profile = %v", fb.profile)
	}
}

func TestUpsertProfileUnknownUser(t *testing.T) {
	fb := &fakeBackend{}
	c := newTestClient(t, fb.handler())
	err := c.UpsertProfile(context.Background(), testEmail, models.ProfileRecord{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestChatCalls(t *testing.T) {
	fb := &fakeBackend{userExists: true}
	c := newTestClient(t, fb.handler())
	ctx := context.Background()

	turn, err := c.StartChat(ctx, testEmail)
	if err != nil || turn.ThreadID != "th_1" {
		t.Fatalf("StartChat = %+v, %v", turn, err)
	}
	turn, err = c.SendMessage(ctx, testEmail, "th_1", "how much protein?")
	if err != nil || turn.Text != "echo:th_1:how much protein?" {
		t.Fatalf("SendMessage = %+v, %v", turn, err)
	}
	turn, err = c.CompleteChat(ctx, testEmail, "th_1")
	if err != nil || turn.Text != "summary" {
		t.Fatalf("CompleteChat = %+v, %v", turn, err)
	}
	turn, err = c.DailyAdvice(ctx, testEmail, "morning", "slept badly", 2)
	if err != nil || turn.ThreadID != "th_daily" || turn.Text != "slept badly/2" {
		t.Fatalf("DailyAdvice = %+v, %v", turn, err)
	}
	n, err := c.AdvicePieceCount(ctx, testEmail)
	if err != nil || n != 3 {
		t.Fatalf("AdvicePieceCount = %d, %v", n, err)
	}
	piece, err := c.NextAdvicePiece(ctx, testEmail)
	if err != nil || piece != "drink water" {
		t.Fatalf("NextAdvicePiece = %q, %v", piece, err)
	}
	p, err := c.GetProfile(ctx, testEmail)
	if err != nil || p.PreferredLang != models.LanguageRussian {
		t.Fatalf("GetProfile = %+v, %v", p, err)
	}
}

func TestStartChatWithoutThread(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"hi"}`))
	})
	c := newTestClient(t, h)
	if _, err := c.StartChat(context.Background(), testEmail); !errors.Is(err, ErrNoThread) {
		t.Errorf("err = %v, want ErrNoThread", err)
	}
}

func TestRetriesOnServerError(t *testing.T) {
	var hits int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"count":1}`))
	})
	c := newTestClient(t, h)
	n, err := c.AdvicePieceCount(context.Background(), testEmail)
	if err != nil || n != 1 {
		t.Fatalf("AdvicePieceCount = %d, %v", n, err)
	}
	if hits != 3 {
		t.Errorf("hits = %d, want 3", hits)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var hits int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "bad level", http.StatusUnprocessableEntity)
	})
	c := newTestClient(t, h)
	_, err := c.DailyAdvice(context.Background(), testEmail, "g", "n", 9)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnprocessableEntity {
		t.Fatalf("err = %v, want StatusError 422", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestChatCallsAreNotRepeated(t *testing.T) {
	tests := []struct {
		name string
		slow bool
		call func(*Client) error
	}{
		{"timed out chat turn", true, func(c *Client) error {
			_, err := c.SendMessage(context.Background(), testEmail, "t-1", "hello")
			return err
		}},
		{"chat turn 5xx", false, func(c *Client) error {
			_, err := c.SendMessage(context.Background(), testEmail, "t-1", "hello")
			return err
		}},
		{"start 5xx", false, func(c *Client) error {
			_, err := c.StartChat(context.Background(), testEmail)
			return err
		}},
		{"advice pop 5xx", false, func(c *Client) error {
			_, err := c.NextAdvicePiece(context.Background(), testEmail)
			return err
		}},
		{"daily advice timeout", true, func(c *Client) error {
			_, err := c.DailyAdvice(context.Background(), testEmail, "g", "n", 3)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				if tt.slow {
					time.Sleep(150 * time.Millisecond)
				}
				w.WriteHeader(http.StatusServiceUnavailable)
			}))
			defer srv.Close()
			c, err := NewClient(WithEndpoint(srv.URL), WithTimeout(50*time.Millisecond), WithRetryBackoff(time.Millisecond))
			if err != nil {
				t.Fatal(err)
			}
			if err := tt.call(c); err == nil {
				t.Fatal("expected an error")
			}
			if got := atomic.LoadInt32(&hits); got != 1 {
				t.Errorf("backend received the call %d times, want 1", got)
			}
		})
	}
}

func TestChatCallsRetryFailedConnections(t *testing.T) {
	var dials int32
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			atomic.AddInt32(&dials, 1)
			return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
		},
	}
	c, err := NewClient(WithEndpoint("http://backend.invalid"), WithRetryBackoff(time.Millisecond),
		WithHTTPClient(&http.Client{Transport: transport}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.StartChat(context.Background(), testEmail); err == nil {
		t.Fatal("expected an error")
	}
	if got := atomic.LoadInt32(&dials); got != 1+DefaultRetries {
		t.Errorf("dials = %d, want %d", got, 1+DefaultRetries)
	}
}

func TestDummyEmail(t *testing.T) {
	if got := DummyEmail("tg", "42"); got != testEmail {
		t.Errorf("DummyEmail = %q", got)
	}
}
