package msgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid recipient"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken(" tok "))
	_, err := c.Send(context.Background(), "bob", SendRequest{Text: "hi"})
	if !IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid recipient") {
		t.Fatalf("error message lost: %v", err)
	}
}

func TestClientHistoryQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/messages/bob" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("after") != "7" || r.URL.Query().Get("limit") != "2" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(HistoryPage{Messages: []Message{{ID: "m8", Seq: 8}}, NextCursor: 8})
	}))
	defer srv.Close()

	page, err := New(srv.URL, WithToken("t")).History(context.Background(), "bob", 7, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 1 || page.NextCursor != 8 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestClientUsersQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("query = %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode([]User{{ID: "u2", Username: "bob"}})
		case "/api/users/u2":
			_ = json.NewEncoder(w).Encode(User{ID: "u2", Username: "bob", IsOnline: true})
		default:
			t.Errorf("path = %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("t"))
	users, err := c.Users(context.Background(), 5)
	if err != nil || len(users) != 1 || users[0].Username != "bob" {
		t.Fatalf("users = %+v, %v", users, err)
	}
	u, err := c.User(context.Background(), "u2")
	if err != nil || !u.IsOnline {
		t.Fatalf("user = %+v, %v", u, err)
	}
}

func TestClientUploadMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		if hdr.Filename != "a.pdf" || string(body) != "%PDF" || hdr.Header.Get("Content-Type") != "application/pdf" {
			t.Errorf("unexpected part %s %q %s", hdr.Filename, body, hdr.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Attachment{Filename: "a.pdf", URL: "http://x/a.pdf", Size: 4})
	}))
	defer srv.Close()

	att, err := New(srv.URL, WithToken("t")).Upload(context.Background(), "a.pdf", "application/pdf", bytes.NewBufferString("%PDF"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.URL != "http://x/a.pdf" {
		t.Fatalf("attachment = %+v", att)
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8085":     "ws://localhost:8085/ws?token=abc",
		"https://chat.example.com/": "wss://chat.example.com/ws?token=abc",
		"http://host/prefix":        "ws://host/prefix/ws?token=abc",
	}
	for in, want := range cases {
		got, err := websocketURL(in, "abc")
		if err != nil {
			t.Fatalf("websocketURL(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("websocketURL(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := websocketURL("ftp://host", "abc"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestDialRequiresToken(t *testing.T) {
	if _, err := New("http://localhost").Dial(context.Background()); err == nil {
		t.Fatalf("expected error without token")
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	want := stateFile{BaseURL: "http://h", Token: "tok", UserID: "u1", Username: "alice"}
	if err := saveState(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := loadState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("state = %+v, want %+v", got, want)
	}
}

func TestRunCLIUsage(t *testing.T) {
	err := RunCLI("dmctl", nil, io.Discard, io.Discard)
	if _, ok := err.(UsageError); !ok {
		t.Fatalf("expected UsageError, got %v", err)
	}
	err = RunCLI("dmctl", []string{"bogus"}, io.Discard, io.Discard)
	if _, ok := err.(UsageError); !ok {
		t.Fatalf("expected UsageError for unknown command, got %v", err)
	}
}

func TestRunCLIRequiresLogin(t *testing.T) {
	var stderr bytes.Buffer
	state := filepath.Join(t.TempDir(), "missing.json")
	err := RunCLI("dmctl", []string{"chats", "-state", state}, io.Discard, &stderr)
	if err == nil || !strings.Contains(stderr.String(), "signup or login") {
		t.Fatalf("expected login hint, got %v / %q", err, stderr.String())
	}
}
