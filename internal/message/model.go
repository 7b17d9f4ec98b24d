package message

import "time"

type Variant string

const (
	VariantText  Variant = "text"
	VariantEmoji Variant = "emoji"
	VariantAudio Variant = "audio"
	VariantFile  Variant = "file"
	VariantImage Variant = "image"
	VariantPoll  Variant = "poll"
)

// IsMedia reports whether messages of this variant belong to a channel's
// media collection.
func (v Variant) IsMedia() bool {
	return v == VariantImage || v == VariantFile || v == VariantAudio
}

// Status only moves forward: sent -> delivered -> seen.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

func (s Status) rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusSeen:
		return 2
	default:
		return 0
	}
}

// Advance returns the later of s and next.
func (s Status) Advance(next Status) Status {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// Message is the persisted document. Recipient is empty for channel
// messages, which are addressed through ChannelID and channel membership.
type Message struct {
	ID        string     `bson:"_id" json:"_id"`
	Sender    string     `bson:"sender" json:"sender"`
	Recipient string     `bson:"recipient,omitempty" json:"recipient,omitempty"`
	ChannelID string     `bson:"channelId,omitempty" json:"channelId,omitempty"`
	Type      Variant    `bson:"messageType" json:"messageType"`
	Content   string     `bson:"content,omitempty" json:"content,omitempty"`
	AudioURL  string     `bson:"audioUrl,omitempty" json:"audioUrl,omitempty"`
	FileURL   string     `bson:"fileUrl,omitempty" json:"fileUrl,omitempty"`
	FileName  string     `bson:"fileName,omitempty" json:"fileName,omitempty"`
	FileSize  int64      `bson:"fileSize,omitempty" json:"fileSize,omitempty"`
	PollID    string     `bson:"pollId,omitempty" json:"pollId,omitempty"`
	PollData  *PollData  `bson:"pollData,omitempty" json:"pollData,omitempty"`
	Status    Status     `bson:"messageStatus" json:"messageStatus"`
	IsRead    bool       `bson:"isRead" json:"isRead"`
	ReadAt    *time.Time `bson:"readAt,omitempty" json:"readAt"`
	Timestamp time.Time  `bson:"timestamp" json:"timestamp"`
}

func (m *Message) IsDirect() bool { return m.Recipient != "" }

// PollData is the poll snapshot embedded in a poll message. Vote counts are
// refreshed whenever the poll is voted on.
type PollData struct {
	Title              string       `bson:"title" json:"title"`
	Description        string       `bson:"description,omitempty" json:"description,omitempty"`
	Options            []PollOption `bson:"options" json:"options"`
	PollType           string       `bson:"pollType,omitempty" json:"pollType,omitempty"`
	Category           string       `bson:"category,omitempty" json:"category,omitempty"`
	AllowMultipleVotes bool         `bson:"allowMultipleVotes" json:"allowMultipleVotes"`
	ExpiresAt          time.Time    `bson:"expiresAt" json:"expiresAt"`
	TotalVotes         int          `bson:"totalVotes" json:"totalVotes"`
}

type PollOption struct {
	ID        string `bson:"id" json:"id"`
	Text      string `bson:"text" json:"text"`
	ImageURL  string `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	VoteCount int    `bson:"voteCount" json:"voteCount"`
}

// UnreadCount is the number of unread direct messages from one sender.
type UnreadCount struct {
	SenderID string `bson:"_id" json:"_id"`
	Count    int64  `bson:"count" json:"count"`
}

// Partner is a user the viewer has exchanged direct messages with.
type Partner struct {
	UserID          string    `bson:"_id" json:"_id"`
	LastMessageTime time.Time `bson:"lastMessageTime" json:"lastMessageTime"`
}

// Media is the projection of a media message shown in channel details.
type Media struct {
	ID        string    `json:"_id"`
	Type      Variant   `json:"messageType"`
	FileURL   string    `json:"fileUrl"`
	FileName  string    `json:"fileName,omitempty"`
	FileSize  int64     `json:"fileSize,omitempty"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Message) Media() Media {
	url := m.FileURL
	if url == "" {
		url = m.AudioURL
	}
	return Media{
		ID:        m.ID,
		Type:      m.Type,
		FileURL:   url,
		FileName:  m.FileName,
		FileSize:  m.FileSize,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
	}
}
