package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dmchat/internal/authz"
	"dmchat/internal/domain"
	"dmchat/internal/netutil"
	"dmchat/internal/registry"
	"dmchat/internal/service"
)

const (
	frameSend = "send"
	framePing = "ping"

	writeWait = 10 * time.Second
)

type WSConfig struct {
	SendBuffer    int
	PingInterval  time.Duration
	MaxFrameBytes int64
}

func (c WSConfig) withDefaults() WSConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 64 << 10
	}
	return c
}

type upgrader = websocket.Upgrader

func newUpgrader(origins []string) upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
}

// originChecker accepts handshakes without an Origin header (non-browser
// clients), same-host origins and origins on the CORS allow list.
func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || allowsAnyOrigin(origins) {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

type inboundFrame struct {
	Type        string              `json:"type"`
	To          domain.UserID       `json:"to,omitempty"`
	Text        string              `json:"text,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	ClientMsgID string              `json:"clientMsgId,omitempty"`
}

// wsConn is one live connection. The embedded outbox is the registry handle;
// only writeLoop touches the socket for writes.
type wsConn struct {
	*registry.Outbox
	sock   *websocket.Conn
	userID domain.UserID
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.Verify(r.Context(), authz.HandshakeToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.log.Warn("websocket upgrade failed", logAttrs(r, "user_id", userID, "error", err)...)
		return
	}

	// The connection outlives request cancellation but keeps its ids for logs.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := &wsConn{
		Outbox: registry.NewOutbox(uuid.NewString(), h.ws.SendBuffer),
		sock:   sock,
		userID: userID,
	}
	log := h.log.With(logAttrs(r, "user_id", userID, "conn_id", c.ID())...)
	log.Info("websocket connected", "ip", netutil.ClientIP(r), "user_agent", netutil.TruncateUserAgent(r.UserAgent()))

	h.registry.Register(ctx, userID, c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(c)
	}()

	err = h.readLoop(ctx, c)
	h.registry.Unregister(ctx, userID, c)
	_ = c.Close()
	<-done

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Info("websocket closed", "error", err)
		return
	}
	log.Info("websocket closed")
}

// readLoop handles inbound frames until the socket fails or goes silent for
// two ping intervals.
func (h *Handler) readLoop(ctx context.Context, c *wsConn) error {
	idle := 2 * h.ws.PingInterval
	c.sock.SetReadLimit(h.ws.MaxFrameBytes)
	_ = c.sock.SetReadDeadline(time.Now().Add(idle))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		kind, data, err := c.sock.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(idle))
		if kind != websocket.TextMessage {
			h.reply(ctx, c, registry.SendError(fmt.Errorf("%w: text frames only", domain.ErrInvalidRequest), ""))
			continue
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			h.reply(ctx, c, registry.SendError(fmt.Errorf("%w: malformed frame", domain.ErrInvalidRequest), ""))
			continue
		}

		switch f.Type {
		case frameSend:
			_, err := h.router.Send(ctx, service.SendInput{
				SenderID:    c.userID,
				RecipientID: f.To,
				Text:        f.Text,
				Attachments: f.Attachments,
				ClientMsgID: f.ClientMsgID,
			})
			if err != nil {
				h.reply(ctx, c, registry.SendError(err, f.ClientMsgID))
			}
		case framePing:
			h.reply(ctx, c, registry.Event{Type: registry.EventPong})
		default:
			h.reply(ctx, c, registry.SendError(fmt.Errorf("%w: unknown frame type %q", domain.ErrInvalidRequest, f.Type), f.ClientMsgID))
		}
	}
}

// reply queues an event for this connection only. A full queue means the
// client stopped reading; the connection is dropped like any slow consumer.
func (h *Handler) reply(ctx context.Context, c *wsConn, ev registry.Event) {
	if err := c.Deliver(ctx, ev); err != nil && !errors.Is(err, domain.ErrConnectionClosed) {
		h.registry.Unregister(ctx, c.userID, c)
		_ = c.Close()
	}
}

// writeLoop is the single socket writer. It drains the outbox, sends pings
// and closes the socket once the outbox is closed or a write fails.
func (h *Handler) writeLoop(c *wsConn) {
	ticker := time.NewTicker(h.ws.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Events():
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.sock.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.sock.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
