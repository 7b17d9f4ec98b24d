package chat

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"shopchat/internal/apperr"
	"shopchat/internal/channel"
	"shopchat/internal/message"
	"shopchat/internal/presence"
	"shopchat/internal/stream"
)

const defaultEventTimeout = 10 * time.Second

type MessageStore interface {
	CreateMessage(ctx context.Context, m *message.Message) error
	MarkRead(ctx context.Context, viewer, counterpart string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, viewer, counterpart string) (int64, error)
	MarkDelivered(ctx context.Context, ids ...string) error
}

type ChannelDirectory interface {
	FindWithMembers(ctx context.Context, id string) (*channel.Channel, error)
	AppendMessage(ctx context.Context, channelID, messageID string) (*channel.Channel, error)
}

// UserStatus persists the isOnline projection of the presence table.
type UserStatus interface {
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
}

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

type Options struct {
	// Relay spreads deliveries across instances. Nil keeps delivery local.
	Relay        Relay
	Events       stream.Publisher
	EventTimeout time.Duration
}

// Hub routes realtime events between live connections. Every write is
// persisted before any delivery is attempted, and a failed delivery never
// undoes the write or stops delivery to the remaining recipients.
type Hub struct {
	table        *presence.Table
	messages     MessageStore
	channels     ChannelDirectory
	users        UserStatus
	relay        Relay
	relayDown    atomic.Bool
	events       stream.Publisher
	eventTimeout time.Duration
	log          *zap.Logger
	now          func() time.Time
	handlers     map[string]handlerFunc
}

func NewHub(messages MessageStore, channels ChannelDirectory, users UserStatus, log *zap.Logger, opts Options) *Hub {
	h := &Hub{
		table:        presence.NewTable(),
		messages:     messages,
		channels:     channels,
		users:        users,
		relay:        opts.Relay,
		events:       opts.Events,
		eventTimeout: opts.EventTimeout,
		log:          log.Named("hub"),
		now:          time.Now,
	}
	if h.events == nil {
		h.events = stream.Nop{}
	}
	if h.eventTimeout <= 0 {
		h.eventTimeout = defaultEventTimeout
	}
	h.handlers = map[string]handlerFunc{
		EventSendDirectMessage:   h.handleDirectMessage,
		EventSendChannelMessage:  h.handleChannelMessage,
		EventMarkAsRead:          h.handleMarkAsRead,
		EventCreateChannelNotify: h.handleCreateChannelNotify,
		EventGetOnlineUsers:      h.handleGetOnlineUsers,
	}
	return h
}

// Run consumes relay deliveries until ctx is done. Without a relay it
// returns immediately. If the subscription fails the hub stops using the
// relay and delivers to local connections only.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	err := h.relay.Subscribe(ctx, h.deliverLocal)
	if err != nil {
		h.relayDown.Store(true)
		h.log.Error("relay subscription failed, delivering to local connections only", zap.Error(err))
	}
	return err
}

// activeRelay is nil when there is no relay or its subscription has failed.
func (h *Hub) activeRelay() Relay {
	if h.relay == nil || h.relayDown.Load() {
		return nil
	}
	return h.relay
}

// Online returns the ids of users with a live connection on this instance.
func (h *Hub) Online() []string { return h.table.Snapshot() }

// dispatch runs one inbound event. Failures go back to the sender as an
// error event and never close the connection.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.replyError(c, "", apperr.Validation("malformed frame: %v", err))
		return
	}
	handle, ok := h.handlers[env.Event]
	if !ok {
		h.replyError(c, env.Event, apperr.Validation("unknown event %q", env.Event))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
	defer cancel()
	if err := handle(ctx, c, env.Data); err != nil {
		h.replyError(c, env.Event, err)
	}
}

func (h *Hub) replyError(c *Client, event string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.log.Error("event failed", zap.String("event", event), zap.String("user", c.userID), zap.Error(err))
	} else {
		h.log.Debug("event rejected", zap.String("event", event), zap.String("user", c.userID), zap.Error(err))
	}
	payload, encErr := encode(EventError, ErrorEvent{Event: event, Code: apperr.Code(err), Message: apperr.Message(err)})
	if encErr != nil {
		return
	}
	if sendErr := c.Send(payload); sendErr != nil {
		h.log.Debug("error event not delivered", zap.String("user", c.userID), zap.Error(sendErr))
	}
}

func requireIdentity(c *Client) (string, error) {
	if c.userID == "" {
		return "", apperr.Forbidden("authentication required")
	}
	return c.userID, nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("event data is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("malformed event data: %v", err)
	}
	return nil
}

// senderFor resolves the claimed sender against the connection identity.
func senderFor(c *Client, claimed string) (string, error) {
	self, err := requireIdentity(c)
	if err != nil {
		return "", err
	}
	if claimed != "" && claimed != self {
		return "", apperr.Forbidden("sender does not match the connected user")
	}
	return self, nil
}

func (h *Hub) handleDirectMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p sendPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	sender, err := senderFor(c, p.Sender)
	if err != nil {
		return err
	}
	if p.Recipient == "" {
		return apperr.Validation("recipient is required")
	}
	content, err := message.DecodeContent(data)
	if err != nil {
		return err
	}

	msg := message.NewDirect(sender, p.Recipient, content, h.now())
	if err := h.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}
	h.publishEvent(ctx, stream.Event{Type: stream.MessageCreated, Message: msg})
	h.fanOutDirect(ctx, msg)
	return nil
}

func (h *Hub) fanOutDirect(ctx context.Context, msg *message.Message) {
	if h.reachable(ctx, msg.Recipient) {
		// Recipients see the message as persisted; the stored status moves on afterwards.
		h.emit(ctx, msg.Recipient, EventReceiveMessage, msg)
		if err := h.messages.MarkDelivered(ctx, msg.ID); err != nil {
			h.log.Warn("delivered status not saved", zap.String("message", msg.ID), zap.Error(err))
		}

		count, err := h.messages.CountUnread(ctx, msg.Recipient, msg.Sender)
		if err != nil {
			h.log.Warn("unread count unavailable", zap.String("user", msg.Recipient), zap.Error(err))
		} else {
			h.emit(ctx, msg.Recipient, EventUnreadCountUpdate, UnreadCountUpdate{SenderID: msg.Sender, Count: count})
		}
	}
	if msg.Sender != msg.Recipient && h.reachable(ctx, msg.Sender) {
		h.emit(ctx, msg.Sender, EventReceiveMessage, msg)
	}
}

func (h *Hub) handleChannelMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p sendPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	sender, err := senderFor(c, p.Sender)
	if err != nil {
		return err
	}
	if p.ChannelID == "" {
		return apperr.Validation("channelId is required")
	}
	content, err := message.DecodeContent(data)
	if err != nil {
		return err
	}

	ch, err := h.channels.FindWithMembers(ctx, p.ChannelID)
	if err != nil {
		return err
	}
	if !ch.IsMember(sender) {
		return apperr.Forbidden("you are not a member of this channel")
	}

	msg := message.NewChannel(sender, ch.ID, content, h.now())
	if err := h.messages.CreateMessage(ctx, msg); err != nil {
		return err
	}
	updated, err := h.channels.AppendMessage(ctx, ch.ID, msg.ID)
	if err != nil {
		return err
	}
	h.publishEvent(ctx, stream.Event{Type: stream.MessageCreated, Message: msg})
	h.fanOutChannel(ctx, msg, updated)
	return nil
}

func (h *Hub) fanOutChannel(ctx context.Context, msg *message.Message, ch *channel.Channel) {
	for _, id := range ch.Recipients() {
		h.emit(ctx, id, EventReceiveChannelMessage, msg)
	}
}

func (h *Hub) handleMarkAsRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p markReadPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	viewer, err := requireIdentity(c)
	if err != nil {
		return err
	}
	if p.RecipientID != "" && p.RecipientID != viewer {
		return apperr.Forbidden("cannot mark messages read for another user")
	}
	if p.SenderID == "" {
		return apperr.Validation("senderId is required")
	}
	_, err = h.MarkConversationRead(ctx, viewer, p.SenderID)
	return err
}

// MarkConversationRead marks every unread message from counterpart to
// viewer as seen, tells counterpart, and resets the viewer's counter.
func (h *Hub) MarkConversationRead(ctx context.Context, viewer, counterpart string) (int64, error) {
	at := h.now().UTC()
	n, err := h.messages.MarkRead(ctx, viewer, counterpart, at)
	if err != nil {
		return 0, err
	}
	h.emit(ctx, counterpart, EventMessagesRead, MessagesRead{ReadBy: viewer, Timestamp: at})
	h.emit(ctx, viewer, EventUnreadCountUpdate, UnreadCountUpdate{SenderID: counterpart, Count: 0})
	h.publishEvent(ctx, stream.Event{Type: stream.MessagesRead, At: at, ReadBy: viewer, Sender: counterpart, Count: n})
	return n, nil
}

func (h *Hub) handleCreateChannelNotify(ctx context.Context, c *Client, data json.RawMessage) error {
	var p channelNotifyPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	caller, err := requireIdentity(c)
	if err != nil {
		return err
	}
	id := p.id()
	if id == "" {
		return apperr.Validation("channel id is required")
	}
	ch, err := h.channels.FindWithMembers(ctx, id)
	if err != nil {
		return err
	}
	if ch.Admin != caller {
		return apperr.Forbidden("only the channel admin can announce it")
	}
	h.NotifyChannelCreated(ctx, ch)
	return nil
}

// NotifyChannelCreated sends new-channel-added to every listed member. The
// admin created the channel and is not told again.
func (h *Hub) NotifyChannelCreated(ctx context.Context, ch *channel.Channel) {
	for _, id := range ch.Members {
		if id == ch.Admin {
			continue
		}
		h.emit(ctx, id, EventNewChannelAdded, NewChannel{Channel: ch})
	}
	h.publishEvent(ctx, stream.Event{Type: stream.ChannelCreated, ChannelID: ch.ID, Sender: ch.Admin})
}

// DeliverPersisted fans out a message some other component already stored.
func (h *Hub) DeliverPersisted(ctx context.Context, msg *message.Message) {
	h.publishEvent(ctx, stream.Event{Type: stream.MessageCreated, Message: msg})
	if msg.ChannelID == "" {
		h.fanOutDirect(ctx, msg)
		return
	}
	ch, err := h.channels.FindWithMembers(ctx, msg.ChannelID)
	if err != nil {
		h.log.Warn("channel lookup failed, message not delivered", zap.String("message", msg.ID), zap.Error(err))
		return
	}
	h.fanOutChannel(ctx, msg, ch)
}

func (h *Hub) handleGetOnlineUsers(ctx context.Context, c *Client, _ json.RawMessage) error {
	payload, err := encode(EventOnlineUsersList, OnlineUsers{Users: h.onlineUsers(ctx)})
	if err != nil {
		return apperr.Internal(err, "encode online users")
	}
	return c.Send(payload)
}

func (h *Hub) onlineUsers(ctx context.Context) []string {
	local := h.table.Snapshot()
	relay := h.activeRelay()
	if relay == nil {
		return local
	}
	remote, err := relay.Members(ctx)
	if err != nil {
		h.log.Warn("cluster presence unavailable, using local table", zap.Error(err))
		return local
	}
	seen := make(map[string]struct{}, len(local)+len(remote))
	out := make([]string, 0, len(local)+len(remote))
	for _, id := range append(local, remote...) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// register makes c the live connection of its user.
func (h *Hub) register(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
	defer cancel()

	if previous := h.table.Register(c.userID, c); previous != nil {
		h.log.Info("connection superseded", zap.String("user", c.userID))
	}
	if relay := h.activeRelay(); relay != nil {
		if err := relay.MarkOnline(ctx, c.userID); err != nil {
			h.log.Warn("cluster presence not updated", zap.String("user", c.userID), zap.Error(err))
		}
	}
	h.broadcast(ctx, c.userID, EventUserOnline, UserPresence{UserID: c.userID})
	if err := h.users.SetOnline(ctx, c.userID, true, h.now()); err != nil {
		h.log.Warn("online status not persisted", zap.String("user", c.userID), zap.Error(err))
	}
	if err := h.handleGetOnlineUsers(ctx, c, nil); err != nil {
		h.log.Warn("online users not sent", zap.String("user", c.userID), zap.Error(err))
	}
	h.log.Info("user connected", zap.String("user", c.userID), zap.Int("online", h.table.Len()))
}

// unregister drops c if it is still its user's live connection.
func (h *Hub) unregister(c *Client) {
	if c.userID == "" {
		return
	}
	userID, ok := h.table.Unregister(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.eventTimeout)
	defer cancel()

	if relay := h.activeRelay(); relay != nil {
		if err := relay.MarkOffline(ctx, userID); err != nil {
			h.log.Warn("cluster presence not updated", zap.String("user", userID), zap.Error(err))
		}
	}
	h.broadcast(ctx, userID, EventUserOffline, UserPresence{UserID: userID})
	if err := h.users.SetOnline(ctx, userID, false, h.now()); err != nil {
		h.log.Warn("offline status not persisted", zap.String("user", userID), zap.Error(err))
	}
	h.log.Info("user disconnected", zap.String("user", userID), zap.Int("online", h.table.Len()))
}

// reachable reports whether userID has a live connection on this instance
// or, with a relay, anywhere in the cluster.
func (h *Hub) reachable(ctx context.Context, userID string) bool {
	if _, ok := h.table.Lookup(userID); ok {
		return true
	}
	relay := h.activeRelay()
	if relay == nil {
		return false
	}
	ok, err := relay.IsOnline(ctx, userID)
	if err != nil {
		h.log.Warn("cluster presence lookup failed", zap.String("user", userID), zap.Error(err))
		return false
	}
	return ok
}

// emit sends one event to userID. Delivery failures are logged only.
func (h *Hub) emit(ctx context.Context, userID, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.route(ctx, Delivery{UserID: userID, Payload: payload}, event)
}

// broadcast sends one event to every live connection except exclude.
func (h *Hub) broadcast(ctx context.Context, exclude, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.route(ctx, Delivery{Exclude: exclude, Payload: payload}, event)
}

func (h *Hub) route(ctx context.Context, d Delivery, event string) {
	relay := h.activeRelay()
	if relay == nil {
		h.deliverLocal(d)
		return
	}
	if err := relay.Publish(ctx, d); err != nil {
		h.log.Warn("relay publish failed, delivering locally", zap.String("event", event), zap.String("user", d.UserID), zap.Error(err))
		h.deliverLocal(d)
	}
}

func (h *Hub) deliverLocal(d Delivery) {
	if d.UserID != "" {
		conn, ok := h.table.Lookup(d.UserID)
		if !ok {
			return
		}
		if err := conn.Send(d.Payload); err != nil {
			h.log.Warn("delivery failed", zap.String("user", d.UserID), zap.Error(err))
		}
		return
	}
	h.table.Each(func(userID string, conn presence.Conn) {
		if userID == d.Exclude {
			return
		}
		if err := conn.Send(d.Payload); err != nil {
			h.log.Warn("broadcast delivery failed", zap.String("user", userID), zap.Error(err))
		}
	})
}

func (h *Hub) publishEvent(ctx context.Context, e stream.Event) {
	if err := h.events.Publish(ctx, e); err != nil {
		h.log.Warn("event not streamed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}
