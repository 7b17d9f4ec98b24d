package poll

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shopchat/internal/apperr"
	"shopchat/internal/channel"
	"shopchat/internal/message"
)

const saveRetries = 3

type Repository interface {
	Insert(ctx context.Context, p *Poll) error
	FindByID(ctx context.Context, id string) (*Poll, error)
	Save(ctx context.Context, p *Poll) error
	SetMessageID(ctx context.Context, pollID, messageID string) error
	ListForChat(ctx context.Context, chatType ChatType, chatID string, page, limit int) ([]*Poll, int64, error)
}

type MessageWriter interface {
	CreateMessage(ctx context.Context, m *message.Message) error
	UpdatePollSnapshot(ctx context.Context, messageID string, snapshot message.PollData) error
}

type Channels interface {
	FindWithMembers(ctx context.Context, id string) (*channel.Channel, error)
	AppendMessage(ctx context.Context, channelID, messageID string) (*channel.Channel, error)
}

// Deliverer pushes an already stored message to its live recipients.
type Deliverer interface {
	DeliverPersisted(ctx context.Context, m *message.Message)
}

type Service struct {
	polls     Repository
	messages  MessageWriter
	channels  Channels
	deliverer Deliverer
	log       *zap.Logger
	now       func() time.Time
}

func NewService(polls Repository, messages MessageWriter, channels Channels, deliverer Deliverer, log *zap.Logger) *Service {
	return &Service{
		polls:     polls,
		messages:  messages,
		channels:  channels,
		deliverer: deliverer,
		log:       log.Named("polls"),
		now:       time.Now,
	}
}

type OptionInput struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

type CreateRequest struct {
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Options            []OptionInput `json:"options"`
	PollType           string        `json:"pollType"`
	Category           string        `json:"category"`
	AllowMultipleVotes bool          `json:"allowMultipleVotes"`
	ShowResults        ShowResults   `json:"showResults"`
	ExpiresIn          float64       `json:"expiresIn"`
	ChatType           ChatType      `json:"chatType"`
	ChatID             string        `json:"chatId"`
	Recipient          string        `json:"recipient"`
}

func (s *Service) build(creator string, req CreateRequest) (*Poll, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || len(req.Options) < minOptions {
		return nil, apperr.Validation("poll must have a title and at least %d options", minOptions)
	}
	if len(req.Options) > maxOptions {
		return nil, apperr.Validation("poll cannot have more than %d options", maxOptions)
	}
	if len(title) > maxTitleLen {
		return nil, apperr.Validation("title must be at most %d characters", maxTitleLen)
	}
	if len(req.Description) > maxDescLen {
		return nil, apperr.Validation("description must be at most %d characters", maxDescLen)
	}
	if req.ExpiresIn < 0 || req.ExpiresIn > maxExpiresIn {
		return nil, apperr.Validation("expiresIn must be between 0 and %d hours", maxExpiresIn)
	}

	chatType := req.ChatType
	if chatType == "" {
		chatType = ChatDirect
	}
	if chatType != ChatDirect && chatType != ChatChannel {
		return nil, apperr.Validation("unknown chatType %q", chatType)
	}
	chatID := req.ChatID
	if chatID == "" {
		chatID = req.Recipient
	}
	if chatID == "" {
		return nil, apperr.Validation("chatId is required")
	}

	pollType := req.PollType
	if pollType == "" {
		pollType = "fashion_trend"
	}
	if !pollTypes[pollType] {
		return nil, apperr.Validation("unknown pollType %q", pollType)
	}
	category := req.Category
	if category == "" {
		category = "general"
	}
	if !categories[category] {
		return nil, apperr.Validation("unknown category %q", category)
	}
	show := req.ShowResults
	if show == "" {
		show = ShowAfterVoting
	}
	if show != ShowAfterVoting && show != ShowAlways && show != ShowAfterEnd {
		return nil, apperr.Validation("unknown showResults %q", show)
	}

	opts := make([]Option, 0, len(req.Options))
	for _, o := range req.Options {
		text := strings.TrimSpace(o.Text)
		if text == "" {
			return nil, apperr.Validation("every option needs text")
		}
		opts = append(opts, Option{ID: uuid.NewString(), Text: text, ImageURL: o.ImageURL, Votes: []Vote{}})
	}

	now := s.now().UTC()
	expiry := defaultExpiry
	if req.ExpiresIn > 0 {
		expiry = time.Duration(req.ExpiresIn * float64(time.Hour))
	}
	return &Poll{
		Creator:            creator,
		Title:              title,
		Description:        strings.TrimSpace(req.Description),
		Options:            opts,
		PollType:           pollType,
		Category:           category,
		AllowMultipleVotes: req.AllowMultipleVotes,
		ShowResults:        show,
		ExpiresAt:          now.Add(expiry),
		IsActive:           true,
		ChatType:           chatType,
		ChatID:             chatID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Create stores the poll, posts it as a poll message in its chat and hands
// that message to the realtime router.
func (s *Service) Create(ctx context.Context, creator string, req CreateRequest) (*Poll, *message.Message, error) {
	p, err := s.build(creator, req)
	if err != nil {
		return nil, nil, err
	}
	if p.ChatType == ChatChannel {
		ch, err := s.channels.FindWithMembers(ctx, p.ChatID)
		if err != nil {
			return nil, nil, err
		}
		if !ch.IsMember(creator) {
			return nil, nil, apperr.Forbidden("you are not a member of this channel")
		}
	}

	if err := s.polls.Insert(ctx, p); err != nil {
		return nil, nil, err
	}

	content := message.Poll{PollID: p.ID, PollData: ptr(p.Snapshot())}
	var msg *message.Message
	if p.ChatType == ChatChannel {
		msg = message.NewChannel(creator, p.ChatID, content, p.CreatedAt)
	} else {
		msg = message.NewDirect(creator, p.ChatID, content, p.CreatedAt)
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, nil, err
	}
	if p.ChatType == ChatChannel {
		if _, err := s.channels.AppendMessage(ctx, p.ChatID, msg.ID); err != nil {
			return nil, nil, err
		}
	}
	if err := s.polls.SetMessageID(ctx, p.ID, msg.ID); err != nil {
		return nil, nil, err
	}
	p.MessageID = msg.ID

	s.log.Info("poll created", zap.String("poll", p.ID), zap.String("chat", p.ChatID), zap.String("type", string(p.ChatType)))
	s.deliverer.DeliverPersisted(ctx, msg)
	return p, msg, nil
}

func ptr[T any](v T) *T { return &v }

// mutate loads the poll, applies fn and saves it, retrying when another
// vote landed in between.
func (s *Service) mutate(ctx context.Context, pollID string, fn func(p *Poll) error) (*Poll, error) {
	for attempt := 0; ; attempt++ {
		p, err := s.polls.FindByID(ctx, pollID)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		err = s.polls.Save(ctx, p)
		if errors.Is(err, errStale) && attempt < saveRetries {
			continue
		}
		if errors.Is(err, errStale) {
			return nil, apperr.Internal(err, "save poll")
		}
		if err != nil {
			return nil, err
		}
		s.refreshSnapshot(ctx, p)
		return p, nil
	}
}

func (s *Service) refreshSnapshot(ctx context.Context, p *Poll) {
	if p.MessageID == "" {
		return
	}
	if err := s.messages.UpdatePollSnapshot(ctx, p.MessageID, p.Snapshot()); err != nil {
		s.log.Warn("poll snapshot not refreshed", zap.String("poll", p.ID), zap.Error(err))
	}
}

func requireIDs(pollID, optionID string) error {
	if pollID == "" || optionID == "" {
		return apperr.Validation("pollId and optionId are required")
	}
	return nil
}

func (s *Service) Vote(ctx context.Context, userID, pollID, optionID string) (*Poll, error) {
	if err := requireIDs(pollID, optionID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, pollID, func(p *Poll) error {
		now := s.now()
		if p.IsExpired(now) {
			return apperr.Validation("poll has expired")
		}
		if !p.IsActive {
			return apperr.Validation("poll is not active")
		}
		return p.AddVote(userID, optionID, now)
	})
}

func (s *Service) RemoveVote(ctx context.Context, userID, pollID, optionID string) (*Poll, error) {
	if err := requireIDs(pollID, optionID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, pollID, func(p *Poll) error {
		return p.RemoveVote(userID, optionID)
	})
}

func (s *Service) Results(ctx context.Context, userID, pollID string) (*Poll, []Result, error) {
	p, err := s.polls.FindByID(ctx, pollID)
	if err != nil {
		return nil, nil, err
	}
	if !p.CanSeeResults(userID, s.now()) {
		return nil, nil, apperr.Forbidden("you cannot view results yet")
	}
	return p, p.Results(), nil
}

func (s *Service) Get(ctx context.Context, userID, pollID string) (View, error) {
	p, err := s.polls.FindByID(ctx, pollID)
	if err != nil {
		return View{}, err
	}
	return p.ViewFor(userID, s.now()), nil
}

type Page struct {
	Polls       []View `json:"polls"`
	CurrentPage int    `json:"currentPage"`
	TotalPolls  int64  `json:"totalPolls"`
	HasMore     bool   `json:"hasMore"`
}

func (s *Service) ListForChat(ctx context.Context, userID string, chatType ChatType, chatID string, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPerPage
	}
	if limit > maxPerPage {
		limit = maxPerPage
	}
	polls, total, err := s.polls.ListForChat(ctx, chatType, chatID, page, limit)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := &Page{Polls: make([]View, 0, len(polls)), CurrentPage: page, TotalPolls: total}
	for _, p := range polls {
		out.Polls = append(out.Polls, p.ViewFor(userID, now))
	}
	out.HasMore = int64(page*limit) < total
	return out, nil
}
