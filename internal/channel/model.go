package channel

import (
	"time"

	"shopchat/internal/message"
	"shopchat/internal/user"
)

type Channel struct {
	ID          string    `bson:"_id" json:"_id"`
	Name        string    `bson:"name" json:"name"`
	Admin       string    `bson:"admin" json:"admin"`
	Members     []string  `bson:"members" json:"members"`
	Messages    []string  `bson:"messages" json:"messages"`
	Description string    `bson:"description" json:"description"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// IsMember reports whether userID may read and post in the channel. The
// admin always may, listed or not.
func (c *Channel) IsMember(userID string) bool {
	if userID == c.Admin {
		return true
	}
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

func (c *Channel) isListedMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Recipients returns the members plus the admin, each once, in member
// order with the admin last.
func (c *Channel) Recipients() []string {
	seen := make(map[string]struct{}, len(c.Members)+1)
	out := make([]string, 0, len(c.Members)+1)
	for _, id := range append(append([]string(nil), c.Members...), c.Admin) {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type CreateRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Link is a URL found in a text message of the channel.
type Link struct {
	MessageID string    `json:"messageId"`
	URL       string    `json:"url"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type Details struct {
	*Channel
	AdminInfo   *user.User         `json:"adminInfo,omitempty"`
	MemberInfo  []*user.User       `json:"memberInfo"`
	MessageList []*message.Message `json:"messageList"`
	Media       []message.Media    `json:"media"`
	Links       []Link             `json:"links"`
}
