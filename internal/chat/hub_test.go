package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"shopchat/internal/apperr"
	"shopchat/internal/channel"
	"shopchat/internal/message"
)

const waitTimeout = 3 * time.Second

type memMessages struct {
	mu   sync.Mutex
	seq  int
	msgs map[string]*message.Message
}

func newMemMessages() *memMessages { return &memMessages{msgs: map[string]*message.Message{}} }

func (m *memMessages) CreateMessage(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	msg.ID = fmt.Sprintf("m%d", m.seq)
	cp := *msg
	m.msgs[msg.ID] = &cp
	return nil
}

func (m *memMessages) MarkRead(_ context.Context, viewer, counterpart string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.msgs {
		if msg.Recipient == viewer && msg.Sender == counterpart && !msg.IsRead {
			msg.IsRead, msg.Status = true, message.StatusSeen
			readAt := at
			msg.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (m *memMessages) CountUnread(_ context.Context, viewer, counterpart string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.msgs {
		if msg.Recipient == viewer && msg.Sender == counterpart && !msg.IsRead {
			n++
		}
	}
	return n, nil
}

func (m *memMessages) MarkDelivered(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if msg, ok := m.msgs[id]; ok {
			msg.Status = msg.Status.Advance(message.StatusDelivered)
		}
	}
	return nil
}

func (m *memMessages) get(id string) message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.msgs[id]
}

func (m *memMessages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

type memChannels struct {
	mu       sync.Mutex
	channels map[string]*channel.Channel
}

func (m *memChannels) FindWithMembers(_ context.Context, id string) (*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, apperr.NotFound("channel %s not found", id)
	}
	cp := *ch
	return &cp, nil
}

func (m *memChannels) AppendMessage(_ context.Context, channelID, messageID string) (*channel.Channel, error) {
	m.mu.Lock()
	ch, ok := m.channels[channelID]
	if ok {
		ch.Messages = append(ch.Messages, messageID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("channel %s not found", channelID)
	}
	return m.FindWithMembers(context.Background(), channelID)
}

type statusCall struct {
	userID string
	online bool
}

type statusRecorder struct {
	mu    sync.Mutex
	calls []statusCall
	fail  bool
}

func (s *statusRecorder) SetOnline(_ context.Context, id string, online bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, statusCall{id, online})
	if s.fail {
		return errors.New("database down")
	}
	return nil
}

func (s *statusRecorder) last(userID string) (statusCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].userID == userID {
			return s.calls[i], true
		}
	}
	return statusCall{}, false
}

type tokenValidator struct{}

func (tokenValidator) ValidateToken(tok string) (string, string, error) {
	if !strings.HasPrefix(tok, "tok-") {
		return "", "", errors.New("invalid token")
	}
	id := strings.TrimPrefix(tok, "tok-")
	return id, id + "@example.com", nil
}

type fixture struct {
	hub      *Hub
	srv      *httptest.Server
	messages *memMessages
	channels *memChannels
	status   *statusRecorder
}

func newFixture(t *testing.T, relay Relay) *fixture {
	t.Helper()
	f := &fixture{
		messages: newMemMessages(),
		channels: &memChannels{channels: map[string]*channel.Channel{
			"c1": {ID: "c1", Name: "team", Admin: "alice", Members: []string{"bob", "carol"}},
		}},
		status: &statusRecorder{},
	}
	log := zap.NewNop()
	f.hub = NewHub(f.messages, f.channels, f.status, log, Options{Relay: relay, EventTimeout: time.Second})
	f.srv = httptest.NewServer(http.HandlerFunc(NewHandler(f.hub, tokenValidator{}, "*", log).ServeWs))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) url(token string) string {
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials as userID and waits until the hub has registered it.
func (f *fixture) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn := dial(t, f.url("tok-"+userID))
	waitFor(t, conn, EventOnlineUsersList)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := encode(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func next(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return env
}

// waitFor reads until an event named event arrives, skipping others.
func waitFor(t *testing.T, conn *websocket.Conn, event string) Envelope {
	t.Helper()
	for {
		if env := next(t, conn); env.Event == event {
			return env
		}
	}
}

// assertNone fails if event is queued for conn. A get-online-users round
// trip marks the end of everything sent before it.
func assertNone(t *testing.T, conn *websocket.Conn, event string) {
	t.Helper()
	send(t, conn, EventGetOnlineUsers, struct{}{})
	for {
		env := next(t, conn)
		if env.Event == event {
			t.Fatalf("unexpected %s: %s", event, env.Data)
		}
		if env.Event == EventOnlineUsersList {
			return
		}
	}
}

func data[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", env.Event, err)
	}
	return v
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func text(fields map[string]any) map[string]any {
	out := map[string]any{"messageType": "text", "content": "hi"}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func TestDirectMessageToOnlineRecipient(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	send(t, alice, EventSendDirectMessage, text(map[string]any{"sender": "alice", "recipient": "bob"}))

	got := data[message.Message](t, waitFor(t, bob, EventReceiveMessage))
	if got.Sender != "alice" || got.Recipient != "bob" || got.Content != "hi" || got.ID == "" {
		t.Fatalf("recipient got %+v", got)
	}
	if got.Status != message.StatusSent {
		t.Fatalf("recipient saw status %s, want the persisted %s", got.Status, message.StatusSent)
	}
	unread := data[UnreadCountUpdate](t, waitFor(t, bob, EventUnreadCountUpdate))
	if unread.SenderID != "alice" || unread.Count != 1 {
		t.Fatalf("unread = %+v", unread)
	}

	echo := data[message.Message](t, waitFor(t, alice, EventReceiveMessage))
	if echo.ID != got.ID || echo.Status != message.StatusSent {
		t.Fatalf("echo = %+v, want id %s with status sent", echo, got.ID)
	}
	if stored := f.messages.get(got.ID); stored.Status != message.StatusDelivered {
		t.Fatalf("stored status = %s", stored.Status)
	}
}

func TestDirectMessageToOfflineRecipient(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")

	send(t, alice, EventSendDirectMessage, text(map[string]any{"recipient": "bob"}))

	echo := data[message.Message](t, waitFor(t, alice, EventReceiveMessage))
	if echo.Sender != "alice" || echo.Status != message.StatusSent {
		t.Fatalf("echo = %+v", echo)
	}
	if stored := f.messages.get(echo.ID); stored.IsRead || stored.Status != message.StatusSent {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestDirectMessageRejections(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")

	cases := []struct {
		name string
		data map[string]any
		code string
	}{
		{"spoofed sender", text(map[string]any{"sender": "mallory", "recipient": "bob"}), apperr.ErrForbiddenOperation.Code},
		{"no recipient", text(nil), apperr.ErrValidation.Code},
		{"missing variant field", map[string]any{"recipient": "bob", "messageType": "file", "fileUrl": "u"}, apperr.ErrValidation.Code},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			send(t, alice, EventSendDirectMessage, c.data)
			e := data[ErrorEvent](t, waitFor(t, alice, EventError))
			if e.Code != c.code || e.Event != EventSendDirectMessage {
				t.Fatalf("error = %+v, want code %s", e, c.code)
			}
		})
	}
	if n := f.messages.count(); n != 0 {
		t.Fatalf("%d messages persisted from rejected events", n)
	}
}

func TestChannelMessageFanOut(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")

	send(t, bob, EventSendChannelMessage, text(map[string]any{"channelId": "c1"}))

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob, "carol": carol} {
		got := data[message.Message](t, waitFor(t, conn, EventReceiveChannelMessage))
		if got.ChannelID != "c1" || got.Sender != "bob" || got.Recipient != "" {
			t.Fatalf("%s got %+v", name, got)
		}
	}
	ch, _ := f.channels.FindWithMembers(context.Background(), "c1")
	if len(ch.Messages) != 1 {
		t.Fatalf("channel messages = %v", ch.Messages)
	}
	assertNone(t, alice, EventReceiveChannelMessage)
}

func TestChannelMessageRejections(t *testing.T) {
	f := newFixture(t, nil)
	dave := f.connect(t, "dave")

	send(t, dave, EventSendChannelMessage, text(map[string]any{"channelId": "c1"}))
	if e := data[ErrorEvent](t, waitFor(t, dave, EventError)); e.Code != apperr.ErrForbiddenOperation.Code {
		t.Fatalf("non-member error = %+v", e)
	}

	send(t, dave, EventSendChannelMessage, text(map[string]any{"channelId": "nope"}))
	if e := data[ErrorEvent](t, waitFor(t, dave, EventError)); e.Code != apperr.ErrNotFound.Code {
		t.Fatalf("missing channel error = %+v", e)
	}
	if f.messages.count() != 0 {
		t.Fatal("rejected channel message was persisted")
	}
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	for i := 0; i < 2; i++ {
		send(t, alice, EventSendDirectMessage, text(map[string]any{"recipient": "bob"}))
		waitFor(t, bob, EventReceiveMessage)
	}

	send(t, bob, EventMarkAsRead, map[string]string{"senderId": "alice", "recipientId": "bob"})

	read := data[MessagesRead](t, waitFor(t, alice, EventMessagesRead))
	if read.ReadBy != "bob" || read.Timestamp.IsZero() {
		t.Fatalf("messages-read = %+v", read)
	}
	for {
		u := data[UnreadCountUpdate](t, waitFor(t, bob, EventUnreadCountUpdate))
		if u.Count == 0 {
			if u.SenderID != "alice" {
				t.Fatalf("reset for %q", u.SenderID)
			}
			break
		}
	}
	if n, _ := f.messages.CountUnread(context.Background(), "bob", "alice"); n != 0 {
		t.Fatalf("unread after mark = %d", n)
	}
	if m := f.messages.get("m1"); m.Status != message.StatusSeen || m.ReadAt == nil {
		t.Fatalf("m1 = %+v", m)
	}
}

func TestMarkAsReadForSomeoneElse(t *testing.T) {
	f := newFixture(t, nil)
	bob := f.connect(t, "bob")

	send(t, bob, EventMarkAsRead, map[string]string{"senderId": "alice", "recipientId": "carol"})
	if e := data[ErrorEvent](t, waitFor(t, bob, EventError)); e.Code != apperr.ErrForbiddenOperation.Code {
		t.Fatalf("error = %+v", e)
	}
}

func TestPresenceBroadcasts(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")

	bob := dial(t, f.url("tok-bob"))
	list := data[OnlineUsers](t, waitFor(t, bob, EventOnlineUsersList))
	sort.Strings(list.Users)
	if strings.Join(list.Users, ",") != "alice,bob" {
		t.Fatalf("bob's seed list = %v", list.Users)
	}
	if p := data[UserPresence](t, waitFor(t, alice, EventUserOnline)); p.UserID != "bob" {
		t.Fatalf("user-online = %+v", p)
	}
	if c, ok := f.status.last("bob"); !ok || !c.online {
		t.Fatalf("bob online not persisted: %+v", c)
	}

	bob.Close()
	if p := data[UserPresence](t, waitFor(t, alice, EventUserOffline)); p.UserID != "bob" {
		t.Fatalf("user-offline = %+v", p)
	}
	eventually(t, func() bool {
		c, ok := f.status.last("bob")
		return ok && !c.online
	})
	if got := f.hub.Online(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("online = %v", got)
	}
}

func TestPersistenceFailureDoesNotBlockPresence(t *testing.T) {
	f := newFixture(t, nil)
	f.status.fail = true
	alice := f.connect(t, "alice")
	f.connect(t, "bob")

	if p := data[UserPresence](t, waitFor(t, alice, EventUserOnline)); p.UserID != "bob" {
		t.Fatalf("user-online = %+v", p)
	}
}

func TestLatestConnectionWins(t *testing.T) {
	f := newFixture(t, nil)
	observer := f.connect(t, "carol")
	first := f.connect(t, "alice")
	second := f.connect(t, "alice")
	waitFor(t, observer, EventUserOnline)
	waitFor(t, observer, EventUserOnline)

	first.Close()
	assertNone(t, observer, EventUserOffline)

	bob := f.connect(t, "bob")
	send(t, bob, EventSendDirectMessage, text(map[string]any{"recipient": "alice"}))
	if got := data[message.Message](t, waitFor(t, second, EventReceiveMessage)); got.Sender != "bob" {
		t.Fatalf("second connection got %+v", got)
	}

	second.Close()
	if p := data[UserPresence](t, waitFor(t, observer, EventUserOffline)); p.UserID != "alice" {
		t.Fatalf("user-offline = %+v", p)
	}
}

func TestConnectionWithoutToken(t *testing.T) {
	f := newFixture(t, nil)
	f.connect(t, "alice")
	anon := dial(t, f.url(""))

	send(t, anon, EventGetOnlineUsers, struct{}{})
	if list := data[OnlineUsers](t, waitFor(t, anon, EventOnlineUsersList)); len(list.Users) != 1 {
		t.Fatalf("anonymous list = %v", list.Users)
	}

	send(t, anon, EventSendDirectMessage, text(map[string]any{"recipient": "alice"}))
	if e := data[ErrorEvent](t, waitFor(t, anon, EventError)); e.Code != apperr.ErrForbiddenOperation.Code {
		t.Fatalf("error = %+v", e)
	}
	if got := f.hub.Online(); len(got) != 1 {
		t.Fatalf("anonymous connection tracked: %v", got)
	}
}

func TestInvalidTokenRefused(t *testing.T) {
	f := newFixture(t, nil)
	_, resp, err := websocket.DefaultDialer.Dial(f.url("garbage"), nil)
	if err == nil {
		t.Fatal("handshake with an invalid token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
}

func TestUnknownAndMalformedEvents(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")

	send(t, alice, "dance", struct{}{})
	if e := data[ErrorEvent](t, waitFor(t, alice, EventError)); e.Event != "dance" || e.Code != apperr.ErrValidation.Code {
		t.Fatalf("error = %+v", e)
	}
	alice.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if e := data[ErrorEvent](t, waitFor(t, alice, EventError)); e.Code != apperr.ErrValidation.Code {
		t.Fatalf("error = %+v", e)
	}

	// The connection survives handler errors.
	send(t, alice, EventGetOnlineUsers, struct{}{})
	waitFor(t, alice, EventOnlineUsersList)
}

func TestCreateChannelNotify(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	send(t, alice, EventCreateChannelNotify, map[string]any{"channel": map[string]string{"_id": "c1"}})
	got := data[NewChannel](t, waitFor(t, bob, EventNewChannelAdded))
	if got.Channel == nil || got.Channel.ID != "c1" {
		t.Fatalf("new-channel-added = %+v", got)
	}
	assertNone(t, alice, EventNewChannelAdded)
}

func TestCreateChannelNotifyRequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)
	carol := f.connect(t, "carol")
	bob := f.connect(t, "bob")
	anon := dial(t, f.url(""))

	notify := map[string]any{"channelId": "c1"}
	send(t, anon, EventCreateChannelNotify, notify)
	if e := data[ErrorEvent](t, waitFor(t, anon, EventError)); e.Code != apperr.ErrForbiddenOperation.Code {
		t.Fatalf("anonymous error = %+v", e)
	}
	send(t, bob, EventCreateChannelNotify, notify)
	if e := data[ErrorEvent](t, waitFor(t, bob, EventError)); e.Code != apperr.ErrForbiddenOperation.Code {
		t.Fatalf("member error = %+v", e)
	}
	assertNone(t, carol, EventNewChannelAdded)
}

func TestDeliverPersistedChannelMessage(t *testing.T) {
	f := newFixture(t, nil)
	carol := f.connect(t, "carol")

	msg := message.NewChannel("alice", "c1", message.Text{Content: "poll soon"}, time.Now())
	f.messages.CreateMessage(context.Background(), msg)
	f.hub.DeliverPersisted(context.Background(), msg)

	if got := data[message.Message](t, waitFor(t, carol, EventReceiveChannelMessage)); got.ID != msg.ID {
		t.Fatalf("carol got %+v", got)
	}
}

func TestMarkConversationReadOverREST(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.connect(t, "alice")
	f.messages.CreateMessage(context.Background(), message.NewDirect("alice", "bob", message.Text{Content: "x"}, time.Now()))

	n, err := f.hub.MarkConversationRead(context.Background(), "bob", "alice")
	if err != nil || n != 1 {
		t.Fatalf("MarkConversationRead = %d, %v", n, err)
	}
	if r := data[MessagesRead](t, waitFor(t, alice, EventMessagesRead)); r.ReadBy != "bob" {
		t.Fatalf("messages-read = %+v", r)
	}
}

func TestSendNeverBlocks(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), done: make(chan struct{})}

	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, errSendBuffer) {
		t.Fatalf("full buffer: %v", err)
	}
	close(c.done)
	if err := c.Send([]byte("c")); !errors.Is(err, errClientClosed) {
		t.Fatalf("closed client: %v", err)
	}
}
