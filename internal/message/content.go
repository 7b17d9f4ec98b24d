package message

import (
	"encoding/json"
	"strings"
	"time"

	"shopchat/internal/apperr"
)

// Content is one variant of a message body. Each variant carries only the
// fields it needs and validates them before anything is persisted.
type Content interface {
	Variant() Variant
	Validate() error
	apply(m *Message)
}

type Text struct {
	Content string `json:"content"`
}

type Emoji struct {
	Content string `json:"content"`
}

type Audio struct {
	AudioURL string `json:"audioUrl"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

type File struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type Image struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
}

type Poll struct {
	PollID   string    `json:"pollId"`
	PollData *PollData `json:"pollData"`
}

func (Text) Variant() Variant  { return VariantText }
func (Emoji) Variant() Variant { return VariantEmoji }
func (Audio) Variant() Variant { return VariantAudio }
func (File) Variant() Variant  { return VariantFile }
func (Image) Variant() Variant { return VariantImage }
func (Poll) Variant() Variant  { return VariantPoll }

func (c Text) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return apperr.Validation("text message requires content")
	}
	return nil
}

func (c Emoji) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return apperr.Validation("emoji message requires content")
	}
	return nil
}

func (c Audio) Validate() error {
	if c.AudioURL == "" {
		return apperr.Validation("audio message requires audioUrl")
	}
	if c.FileSize < 0 {
		return apperr.Validation("fileSize must not be negative")
	}
	return nil
}

func validateFile(kind, url, name string, size int64) error {
	switch {
	case url == "":
		return apperr.Validation("%s message requires fileUrl", kind)
	case name == "":
		return apperr.Validation("%s message requires fileName", kind)
	case size < 0:
		return apperr.Validation("%s message fileSize must not be negative", kind)
	}
	return nil
}

func (c File) Validate() error  { return validateFile("file", c.FileURL, c.FileName, c.FileSize) }
func (c Image) Validate() error { return validateFile("image", c.FileURL, c.FileName, c.FileSize) }

func (c Poll) Validate() error {
	if c.PollID == "" {
		return apperr.Validation("poll message requires pollId")
	}
	if c.PollData == nil || c.PollData.Title == "" {
		return apperr.Validation("poll message requires pollData with a title")
	}
	if len(c.PollData.Options) < 2 {
		return apperr.Validation("poll message requires at least 2 options")
	}
	return nil
}

func (c Text) apply(m *Message)  { m.Content = c.Content }
func (c Emoji) apply(m *Message) { m.Content = c.Content }
func (c Audio) apply(m *Message) {
	m.AudioURL, m.FileName, m.FileSize = c.AudioURL, c.FileName, c.FileSize
}
func (c File) apply(m *Message) {
	m.FileURL, m.FileName, m.FileSize = c.FileURL, c.FileName, c.FileSize
}
func (c Image) apply(m *Message) {
	m.FileURL, m.FileName, m.FileSize = c.FileURL, c.FileName, c.FileSize
}
func (c Poll) apply(m *Message) {
	m.PollID = c.PollID
	snapshot := *c.PollData
	snapshot.Options = append([]PollOption(nil), c.PollData.Options...)
	m.PollData = &snapshot
}

// DecodeContent reads the messageType discriminator from raw and decodes
// the rest of the payload into the matching variant. The returned content
// has already been validated.
func DecodeContent(raw json.RawMessage) (Content, error) {
	var head struct {
		Type     Variant `json:"messageType"`
		FileSize *int64  `json:"fileSize"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, apperr.Validation("malformed message payload: %v", err)
	}
	// Zero is a valid size; an absent one is not.
	if (head.Type == VariantFile || head.Type == VariantImage) && head.FileSize == nil {
		return nil, apperr.Validation("%s message requires fileSize", head.Type)
	}

	var c Content
	var err error
	switch head.Type {
	case VariantText:
		var v Text
		err = json.Unmarshal(raw, &v)
		c = v
	case VariantEmoji:
		var v Emoji
		err = json.Unmarshal(raw, &v)
		c = v
	case VariantAudio:
		var v Audio
		err = json.Unmarshal(raw, &v)
		c = v
	case VariantFile:
		var v File
		err = json.Unmarshal(raw, &v)
		c = v
	case VariantImage:
		var v Image
		err = json.Unmarshal(raw, &v)
		c = v
	case VariantPoll:
		var v Poll
		err = json.Unmarshal(raw, &v)
		c = v
	case "":
		return nil, apperr.Validation("messageType is required")
	default:
		return nil, apperr.Validation("unknown messageType %q", head.Type)
	}
	if err != nil {
		return nil, apperr.Validation("malformed %s payload: %v", head.Type, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewDirect builds an unsaved direct message from sender to recipient.
func NewDirect(sender, recipient string, c Content, now time.Time) *Message {
	m := &Message{
		Sender:    sender,
		Recipient: recipient,
		Type:      c.Variant(),
		Status:    StatusSent,
		Timestamp: now,
	}
	c.apply(m)
	return m
}

// NewChannel builds an unsaved channel message. It has no recipient and no
// read receipts.
func NewChannel(sender, channelID string, c Content, now time.Time) *Message {
	m := &Message{
		Sender:    sender,
		ChannelID: channelID,
		Type:      c.Variant(),
		Status:    StatusSent,
		Timestamp: now,
	}
	c.apply(m)
	return m
}
