package msgclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrLiveClosed = errors.New("msgclient: live connection closed")

// Live is a WebSocket session. Events are read by a background goroutine
// and exposed on Events until the connection ends; Err then reports why.
type Live struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	once   sync.Once

	writeMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// Dial opens the live connection with the client's token.
func (c *Client) Dial(ctx context.Context) (*Live, error) {
	if c.token == "" {
		return nil, fmt.Errorf("msgclient: not logged in")
	}
	wsURL, err := websocketURL(c.baseURL, c.token)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return nil, err
	}

	l := &Live{conn: conn, events: make(chan Event, 64), done: make(chan struct{})}
	go l.readLoop()
	return l, nil
}

func (l *Live) Events() <-chan Event { return l.events }

// Err is the reason the event stream ended, nil while it is open.
func (l *Live) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *Live) Send(to string, req SendRequest) error {
	return l.write(struct {
		Type string `json:"type"`
		To   string `json:"to"`
		SendRequest
	}{Type: "send", To: to, SendRequest: req})
}

func (l *Live) Ping() error {
	return l.write(map[string]string{"type": "ping"})
}

// Next waits for the next event.
func (l *Live) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-l.events:
		if !ok {
			if err := l.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, ErrLiveClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (l *Live) Close() error {
	l.once.Do(func() { close(l.done) })
	l.writeMu.Lock()
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	l.writeMu.Unlock()
	return l.conn.Close()
}

func (l *Live) write(v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteJSON(v)
}

func (l *Live) readLoop() {
	defer close(l.events)
	for {
		var ev Event
		if err := l.conn.ReadJSON(&ev); err != nil {
			l.errMu.Lock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				l.err = ErrLiveClosed
			} else {
				l.err = err
			}
			l.errMu.Unlock()
			return
		}
		select {
		case l.events <- ev:
		case <-l.done:
			return
		}
	}
}

func websocketURL(base, token string) (string, error) {
	base = normalizeBaseURL(base)
	if base == "" {
		return "", fmt.Errorf("msgclient: base URL missing")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("msgclient: unsupported scheme %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
