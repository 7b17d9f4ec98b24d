package chat

import (
	"encoding/json"
	"time"

	"shopchat/internal/channel"
)

// Inbound events.
const (
	EventSendDirectMessage   = "send-direct-message"
	EventSendChannelMessage  = "send-channel-message"
	EventMarkAsRead          = "mark-as-read"
	EventCreateChannelNotify = "create-channel-notify"
	EventGetOnlineUsers      = "get-online-users"
)

// Outbound events.
const (
	EventReceiveMessage        = "receive-message"
	EventReceiveChannelMessage = "receive-channel-message"
	EventUnreadCountUpdate     = "unread-count-update"
	EventMessagesRead          = "messages-read"
	EventUserOnline            = "user-online"
	EventUserOffline           = "user-offline"
	EventOnlineUsersList       = "online-users-list"
	EventNewChannelAdded       = "new-channel-added"
	EventError                 = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type sendPayload struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	ChannelID string `json:"channelId"`
}

type markReadPayload struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
}

type channelNotifyPayload struct {
	ChannelID string `json:"channelId"`
	Channel   *struct {
		ID string `json:"_id"`
	} `json:"channel"`
}

func (p channelNotifyPayload) id() string {
	if p.Channel != nil && p.Channel.ID != "" {
		return p.Channel.ID
	}
	return p.ChannelID
}

type UnreadCountUpdate struct {
	SenderID string `json:"senderId"`
	Count    int64  `json:"count"`
}

type MessagesRead struct {
	ReadBy    string    `json:"readBy"`
	Timestamp time.Time `json:"timestamp"`
}

type UserPresence struct {
	UserID string `json:"userId"`
}

type OnlineUsers struct {
	Users []string `json:"users"`
}

type NewChannel struct {
	Channel *channel.Channel `json:"channel"`
}

type ErrorEvent struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
