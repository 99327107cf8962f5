package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dmchat/internal/convkey"
	"dmchat/internal/domain"
	"dmchat/internal/registry"
)

func TestSendDeliversToRecipientAndEchoesToSender(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	aliceConn := f.connect(t, "alice", "a1")
	bobConn := f.connect(t, "bob", "b1")
	bobPhone := f.connect(t, "bob", "b2")

	msg, err := f.router.Send(context.Background(), SendInput{SenderID: "alice", RecipientID: "bob", Text: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ConversationKey != convkey.Key("alice", "bob") || msg.Seq != 1 {
		t.Fatalf("stored message = %+v", msg)
	}

	for _, o := range []*registry.Outbox{bobConn, bobPhone} {
		evs := drain(o)
		if len(evs) != 1 || evs[0].Type != registry.EventDelivered || evs[0].Message.ID != msg.ID {
			t.Fatalf("%s events = %+v", o.ID(), evs)
		}
	}
	evs := drain(aliceConn)
	if len(evs) != 1 || evs[0].Type != registry.EventSent || evs[0].Message.ID != msg.ID {
		t.Fatalf("sender events = %+v", evs)
	}
}

func TestSendValidation(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	f.user(t, "gone")
	if err := f.store.Users().Tombstone(context.Background(), "gone", f.accounts.now()); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	tests := []struct {
		name string
		in   SendInput
		want error
	}{
		{"empty recipient", SendInput{SenderID: "alice", Text: "x"}, domain.ErrInvalidRecipient},
		{"malformed recipient", SendInput{SenderID: "alice", RecipientID: "bob_x", Text: "x"}, domain.ErrInvalidRecipient},
		{"self", SendInput{SenderID: "alice", RecipientID: "alice", Text: "x"}, domain.ErrInvalidRecipient},
		{"unknown", SendInput{SenderID: "alice", RecipientID: "nobody", Text: "x"}, domain.ErrInvalidRecipient},
		{"tombstoned", SendInput{SenderID: "alice", RecipientID: "gone", Text: "x"}, domain.ErrInvalidRecipient},
		{"tombstoned sender", SendInput{SenderID: "gone", RecipientID: "bob", Text: "x"}, domain.ErrUnauthenticated},
		{"unknown sender", SendInput{SenderID: "ghost", RecipientID: "bob", Text: "x"}, domain.ErrUnauthenticated},
		{"malformed sender", SendInput{SenderID: "a b", RecipientID: "bob", Text: "x"}, domain.ErrUnauthenticated},
		{"whitespace only", SendInput{SenderID: "alice", RecipientID: "bob", Text: "  \n\t"}, domain.ErrEmptyMessage},
		{"attachment without url", SendInput{SenderID: "alice", RecipientID: "bob", Attachments: []domain.Attachment{{Filename: "a.png"}}}, domain.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.router.Send(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	for _, key := range []string{convkey.Key("alice", "bob"), convkey.Key("gone", "bob"), convkey.Key("ghost", "bob")} {
		hp, err := f.store.Messages().History(context.Background(), key, domain.Page{})
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(hp.Messages) != 0 {
			t.Fatalf("rejected sends must persist nothing, got %d in %s", len(hp.Messages), key)
		}
	}
}

func TestSendToOfflineRecipientThenHistory(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	aliceConn := f.connect(t, "alice", "a1")

	sent, err := f.router.Send(context.Background(), SendInput{SenderID: "alice", RecipientID: "bob", Text: "are you there?"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if evs := drain(aliceConn); len(evs) != 1 || evs[0].Type != registry.EventSent {
		t.Fatalf("sender events = %+v", evs)
	}

	bobConn := f.connect(t, "bob", "b1")
	if evs := drain(bobConn); len(evs) != 0 {
		t.Fatalf("no replay on connect, got %+v", evs)
	}

	hp, err := f.router.History(context.Background(), "bob", "alice", domain.Page{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hp.Messages) != 1 || hp.Messages[0].ID != sent.ID || hp.Messages[0].Read {
		t.Fatalf("history = %+v", hp.Messages)
	}
}

func TestSendWithAttachmentOnly(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	aliceConn := f.connect(t, "alice", "a1")
	bobConn := f.connect(t, "bob", "b1")

	att := domain.Attachment{Filename: "cat.png", URL: "https://cdn.example/cat.png", MimeType: "image/png", Size: 1234}
	msg, err := f.router.Send(context.Background(), SendInput{SenderID: "alice", RecipientID: "bob", Attachments: []domain.Attachment{att}})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Text != "" || len(msg.Attachments) != 1 || msg.Attachments[0] != att {
		t.Fatalf("stored = %+v", msg)
	}

	bobEvs := drain(bobConn)
	aliceEvs := drain(aliceConn)
	if len(bobEvs) != 1 || bobEvs[0].Type != registry.EventDelivered {
		t.Fatalf("recipient events = %+v", bobEvs)
	}
	if len(aliceEvs) != 1 || aliceEvs[0].Type != registry.EventSent {
		t.Fatalf("sender events = %+v", aliceEvs)
	}
}

func TestSendIdempotentClientMsgID(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	f.user(t, "carol")
	aliceConn := f.connect(t, "alice", "a1")
	bobConn := f.connect(t, "bob", "b1")

	in := SendInput{SenderID: "alice", RecipientID: "bob", Text: "once", ClientMsgID: "c-1"}
	first, err := f.router.Send(context.Background(), in)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	again, err := f.router.Send(context.Background(), in)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("resend stored a new message %q, want %q", again.ID, first.ID)
	}

	if evs := drain(bobConn); len(evs) != 1 {
		t.Fatalf("recipient notified %d times, want 1", len(evs))
	}
	if evs := drain(aliceConn); len(evs) != 2 || evs[1].Type != registry.EventSent {
		t.Fatalf("sender events = %+v", evs)
	}

	_, err = f.router.Send(context.Background(), SendInput{SenderID: "alice", RecipientID: "carol", Text: "x", ClientMsgID: "c-1"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("reusing client id for another peer: err = %v", err)
	}
}

type failingStore struct {
	MessageStore
	appendErr error
}

func (s failingStore) Append(context.Context, domain.Message) (domain.Message, error) {
	return domain.Message{}, s.appendErr
}

func TestSendPersistenceFailureNotifiesNobody(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	aliceConn := f.connect(t, "alice", "a1")
	bobConn := f.connect(t, "bob", "b1")

	router := NewRouter(failingStore{MessageStore: f.store.Messages(), appendErr: domain.ErrPersistence}, f.store.Users(), f.registry, f.agg, nil)
	_, err := router.Send(context.Background(), SendInput{SenderID: "alice", RecipientID: "bob", Text: "lost"})
	if !errors.Is(err, domain.ErrDeliveryFailed) || !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("err = %v, want DeliveryFailed wrapping Persistence", err)
	}
	if domain.Reason(err) != "DeliveryFailed" {
		t.Fatalf("reason = %q", domain.Reason(err))
	}
	if len(drain(aliceConn)) != 0 || len(drain(bobConn)) != 0 {
		t.Fatalf("nobody may be notified on a failed write")
	}
}

func TestConcurrentCrossSends(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	aliceConn := registry.NewOutbox("a1", 64)
	bobConn := registry.NewOutbox("b1", 64)
	f.registry.Register(context.Background(), "alice", aliceConn)
	f.registry.Register(context.Background(), "bob", bobConn)

	const n = 10
	var wg sync.WaitGroup
	send := func(from, to string) {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if _, err := f.router.Send(context.Background(), SendInput{SenderID: from, RecipientID: to, Text: from}); err != nil {
				t.Errorf("send %s→%s: %v", from, to, err)
			}
		}
	}
	wg.Add(2)
	go send("alice", "bob")
	go send("bob", "alice")
	wg.Wait()

	hp, err := f.router.History(context.Background(), "alice", "bob", domain.Page{Limit: 100})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hp.Messages) != 2*n {
		t.Fatalf("history has %d messages, want %d", len(hp.Messages), 2*n)
	}
	seen := map[int64]bool{}
	for _, m := range hp.Messages {
		if seen[m.Seq] {
			t.Fatalf("duplicate seq %d", m.Seq)
		}
		seen[m.Seq] = true
	}

	// each side sees its own n messages as sent and the peer's n as delivered
	for _, o := range []*registry.Outbox{aliceConn, bobConn} {
		counts := map[string]int{}
		for _, ev := range drain(o) {
			counts[ev.Type]++
		}
		if counts[registry.EventSent] != n || counts[registry.EventDelivered] != n {
			t.Fatalf("%s counts = %v", o.ID(), counts)
		}
	}
}

func TestHistoryCarriesPeer(t *testing.T) {
	f := setupService(t)
	f.user(t, "alice")
	f.user(t, "bob")
	ctx := context.Background()
	if _, err := f.router.Send(ctx, SendInput{SenderID: "alice", RecipientID: "bob", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := f.store.Users().Tombstone(ctx, "bob", f.accounts.now()); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	hp, err := f.router.History(ctx, "alice", "bob", domain.Page{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hp.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(hp.Messages))
	}
	if hp.Peer == nil || hp.Peer.ID != "bob" || hp.Peer.Name != "Deleted user" {
		t.Fatalf("peer = %+v", hp.Peer)
	}

	empty, err := f.router.History(ctx, "alice", "nobody", domain.Page{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if empty.Peer != nil || len(empty.Messages) != 0 {
		t.Fatalf("unknown peer page = %+v", empty)
	}
}

func TestHistoryRejectsBadIdentifiers(t *testing.T) {
	f := setupService(t)
	if _, err := f.router.History(context.Background(), "a_b", "bob", domain.Page{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("malformed caller: err = %v", err)
	}
	if _, err := f.router.History(context.Background(), "", "bob", domain.Page{}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("empty caller: err = %v", err)
	}
	if _, err := f.router.History(context.Background(), "alice", "alice", domain.Page{}); !errors.Is(err, domain.ErrInvalidRecipient) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.router.History(context.Background(), "alice", "a_b", domain.Page{}); !errors.Is(err, domain.ErrInvalidRecipient) {
		t.Fatalf("err = %v", err)
	}
}
