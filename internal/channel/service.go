package channel

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"shopchat/internal/apperr"
	"shopchat/internal/message"
	"shopchat/internal/user"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// Store is the channel persistence; *Repository implements it.
type Store interface {
	Insert(ctx context.Context, ch *Channel) error
	FindWithMembers(ctx context.Context, id string) (*Channel, error)
	AppendMessage(ctx context.Context, channelID, messageID string) (*Channel, error)
	RemoveMember(ctx context.Context, channelID, userID string) (*Channel, error)
	SetDescription(ctx context.Context, channelID, description string) (*Channel, error)
	ListForUser(ctx context.Context, userID string) ([]*Channel, error)
	ListAll(ctx context.Context) ([]*Channel, error)
}

// Directory resolves user ids against the user directory.
type Directory interface {
	FindExisting(ctx context.Context, ids []string) ([]string, error)
	GetByIDs(ctx context.Context, ids []string) ([]*user.User, error)
}

type MessageLookup interface {
	FindByIDs(ctx context.Context, ids []string) ([]*message.Message, error)
}

type Service struct {
	store    Store
	users    Directory
	messages MessageLookup
	log      *zap.Logger
	now      func() time.Time
}

func NewService(store Store, users Directory, messages MessageLookup, log *zap.Logger) *Service {
	return &Service{store: store, users: users, messages: messages, log: log.Named("channels"), now: time.Now}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Create persists a channel administered by admin. Every member must be a
// registered user, otherwise nothing is written.
func (s *Service) Create(ctx context.Context, admin string, req CreateRequest) (*Channel, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("channel name is required")
	}
	if len(name) > maxNameLen {
		return nil, apperr.Validation("channel name must be at most %d characters", maxNameLen)
	}
	members := dedupe(req.Members)

	check := dedupe(append(append([]string(nil), members...), admin))
	found, err := s.users.FindExisting(ctx, check)
	if err != nil {
		return nil, err
	}
	if len(found) != len(check) {
		return nil, apperr.InvalidMember("some members are not valid users")
	}

	now := s.now().UTC()
	ch := &Channel{
		Name:      name,
		Admin:     admin,
		Members:   members,
		Messages:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, ch); err != nil {
		return nil, err
	}
	s.log.Info("channel created", zap.String("channel", ch.ID), zap.String("admin", admin), zap.Int("members", len(members)))
	return ch, nil
}

// AppendMessage is used by the router and the poll service after a
// channel message has been stored.
func (s *Service) AppendMessage(ctx context.Context, channelID, messageID string) (*Channel, error) {
	return s.store.AppendMessage(ctx, channelID, messageID)
}

func (s *Service) FindWithMembers(ctx context.Context, id string) (*Channel, error) {
	return s.store.FindWithMembers(ctx, id)
}

func (s *Service) Leave(ctx context.Context, userID, id string) (*Channel, error) {
	ch, err := s.store.FindWithMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Admin == userID {
		return nil, apperr.Forbidden("the channel admin cannot leave the channel")
	}
	if !ch.isListedMember(userID) {
		return nil, apperr.NotAMember("you are not a member of this channel")
	}
	return s.store.RemoveMember(ctx, id, userID)
}

func (s *Service) UpdateDescription(ctx context.Context, userID, id, description string) (*Channel, error) {
	description = strings.TrimSpace(description)
	if len(description) > maxDescriptionLen {
		return nil, apperr.Validation("description must be at most %d characters", maxDescriptionLen)
	}
	ch, err := s.store.FindWithMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch.Admin != userID {
		return nil, apperr.Forbidden("only the channel admin can update the description")
	}
	return s.store.SetDescription(ctx, id, description)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Channel, error) {
	return s.store.ListForUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]*Channel, error) {
	return s.store.ListAll(ctx)
}

func (s *Service) memberChannel(ctx context.Context, userID, id string) (*Channel, error) {
	ch, err := s.store.FindWithMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsMember(userID) {
		return nil, apperr.Forbidden("you are not a member of this channel")
	}
	return ch, nil
}

// Messages returns the channel history in posting order.
func (s *Service) Messages(ctx context.Context, userID, id string) ([]*message.Message, error) {
	ch, err := s.memberChannel(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.messages.FindByIDs(ctx, ch.Messages)
}

func (s *Service) Details(ctx context.Context, userID, id string) (*Details, error) {
	ch, err := s.memberChannel(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.FindByIDs(ctx, ch.Messages)
	if err != nil {
		return nil, err
	}
	people, err := s.users.GetByIDs(ctx, ch.Recipients())
	if err != nil {
		return nil, err
	}

	d := &Details{
		Channel:     ch,
		MemberInfo:  []*user.User{},
		MessageList: msgs,
		Media:       []message.Media{},
		Links:       []Link{},
	}
	for _, u := range people {
		if u.ID == ch.Admin {
			d.AdminInfo = u
		}
		if ch.isListedMember(u.ID) {
			d.MemberInfo = append(d.MemberInfo, u)
		}
	}
	for _, m := range msgs {
		switch {
		case m.Type.IsMedia():
			d.Media = append(d.Media, m.Media())
		case m.Type == message.VariantText && strings.Contains(m.Content, "http"):
			for _, url := range urlPattern.FindAllString(m.Content, -1) {
				d.Links = append(d.Links, Link{MessageID: m.ID, URL: url, Sender: m.Sender, Timestamp: m.Timestamp})
			}
		}
	}
	return d, nil
}
