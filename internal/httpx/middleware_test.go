package httpx

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestLogRequests(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := LogRequests(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/pot", nil)
	req.RemoteAddr = "192.0.2.1:1000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not json: %v (%q)", err, buf.String())
	}
	if line["status"] != float64(http.StatusTeapot) {
		t.Fatalf("status = %v", line["status"])
	}
	if line["path"] != "/pot" || line["ip"] != "192.0.2.1" {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["bytes"] != float64(len("short and stout")) {
		t.Fatalf("bytes = %v", line["bytes"])
	}
}

func TestLogRequestsWebSocketUpgrade(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	up := websocket.Upgrader{}
	logged := LogRequests(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logged.ServeHTTP(w, r)
		close(done)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	<-done

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not json: %v (%q)", err, buf.String())
	}
	if line["status"] != float64(http.StatusSwitchingProtocols) {
		t.Fatalf("upgrade logged as %v", line["status"])
	}
	if line["path"] != "/ws" {
		t.Fatalf("unexpected line: %v", line)
	}
}
