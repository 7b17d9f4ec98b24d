package poll

import (
	"math"
	"time"

	"shopchat/internal/apperr"
	"shopchat/internal/message"
)

const (
	minOptions     = 2
	maxOptions     = 10
	maxTitleLen    = 200
	maxDescLen     = 500
	defaultExpiry  = 7 * 24 * time.Hour
	maxExpiresIn   = 100000 // hours
	defaultPerPage = 10
	maxPerPage     = 50
)

type ShowResults string

const (
	ShowAfterVoting ShowResults = "after_voting"
	ShowAlways      ShowResults = "always"
	ShowAfterEnd    ShowResults = "after_end"
)

type ChatType string

const (
	ChatDirect  ChatType = "direct"
	ChatChannel ChatType = "channel"
)

var pollTypes = map[string]bool{
	"fashion_trend": true, "outfit_choice": true, "color_preference": true,
	"style_rating": true, "general": true,
}

var categories = map[string]bool{
	"dress": true, "shoes": true, "accessories": true, "tops": true, "bottoms": true,
	"formal": true, "casual": true, "party": true, "general": true,
}

type Vote struct {
	UserID  string    `bson:"userId" json:"userId"`
	VotedAt time.Time `bson:"votedAt" json:"votedAt"`
}

type Option struct {
	ID        string `bson:"id" json:"id"`
	Text      string `bson:"text" json:"text"`
	ImageURL  string `bson:"imageUrl" json:"imageUrl"`
	Votes     []Vote `bson:"votes" json:"-"`
	VoteCount int    `bson:"voteCount" json:"voteCount"`
}

func (o *Option) votedBy(userID string) (Vote, bool) {
	for _, v := range o.Votes {
		if v.UserID == userID {
			return v, true
		}
	}
	return Vote{}, false
}

type Poll struct {
	ID                 string      `bson:"_id" json:"_id"`
	Creator            string      `bson:"creator" json:"creator"`
	Title              string      `bson:"title" json:"title"`
	Description        string      `bson:"description" json:"description"`
	Options            []Option    `bson:"options" json:"options"`
	PollType           string      `bson:"pollType" json:"pollType"`
	Category           string      `bson:"category" json:"category"`
	AllowMultipleVotes bool        `bson:"allowMultipleVotes" json:"allowMultipleVotes"`
	ShowResults        ShowResults `bson:"showResults" json:"showResults"`
	ExpiresAt          time.Time   `bson:"expiresAt" json:"expiresAt"`
	IsActive           bool        `bson:"isActive" json:"isActive"`
	TotalVotes         int         `bson:"totalVotes" json:"totalVotes"`
	ChatType           ChatType    `bson:"chatType" json:"chatType"`
	ChatID             string      `bson:"chatId" json:"chatId"`
	MessageID          string      `bson:"messageId,omitempty" json:"messageId,omitempty"`
	Version            int64       `bson:"version" json:"-"`
	CreatedAt          time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt          time.Time   `bson:"updatedAt" json:"updatedAt"`
}

func (p *Poll) IsExpired(now time.Time) bool { return p.ExpiresAt.Before(now) }

func (p *Poll) option(id string) (*Option, error) {
	for i := range p.Options {
		if p.Options[i].ID == id {
			return &p.Options[i], nil
		}
	}
	return nil, apperr.NotFound("option %s not found", id)
}

func (p *Poll) HasVoted(userID string) bool {
	for i := range p.Options {
		if _, ok := p.Options[i].votedBy(userID); ok {
			return true
		}
	}
	return false
}

func (p *Poll) recount() {
	total := 0
	for i := range p.Options {
		p.Options[i].VoteCount = len(p.Options[i].Votes)
		total += p.Options[i].VoteCount
	}
	p.TotalVotes = total
}

// AddVote records userID's vote for optionID. Single-choice polls accept one
// vote per user; multiple-choice polls accept one vote per user per option.
func (p *Poll) AddVote(userID, optionID string, now time.Time) error {
	opt, err := p.option(optionID)
	if err != nil {
		return err
	}
	if !p.AllowMultipleVotes && p.HasVoted(userID) {
		return apperr.AlreadyInState("you have already voted on this poll")
	}
	if _, ok := opt.votedBy(userID); ok {
		return apperr.AlreadyInState("you have already voted for this option")
	}
	opt.Votes = append(opt.Votes, Vote{UserID: userID, VotedAt: now})
	p.recount()
	return nil
}

func (p *Poll) RemoveVote(userID, optionID string) error {
	opt, err := p.option(optionID)
	if err != nil {
		return err
	}
	if _, ok := opt.votedBy(userID); !ok {
		return apperr.AlreadyInState("you have not voted for this option")
	}
	kept := opt.Votes[:0]
	for _, v := range opt.Votes {
		if v.UserID != userID {
			kept = append(kept, v)
		}
	}
	opt.Votes = kept
	p.recount()
	return nil
}

type Result struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	ImageURL   string `json:"imageUrl"`
	VoteCount  int    `json:"voteCount"`
	Percentage int    `json:"percentage"`
}

func percentage(count, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(total) * 100))
}

func (p *Poll) Results() []Result {
	out := make([]Result, 0, len(p.Options))
	for _, o := range p.Options {
		out = append(out, Result{
			ID:         o.ID,
			Text:       o.Text,
			ImageURL:   o.ImageURL,
			VoteCount:  o.VoteCount,
			Percentage: percentage(o.VoteCount, p.TotalVotes),
		})
	}
	return out
}

func (p *Poll) CanSeeResults(userID string, now time.Time) bool {
	switch p.ShowResults {
	case ShowAlways:
		return true
	case ShowAfterEnd:
		return p.IsExpired(now)
	case ShowAfterVoting:
		return p.HasVoted(userID)
	default:
		return false
	}
}

// Snapshot is the copy of the poll embedded in its chat message.
func (p *Poll) Snapshot() message.PollData {
	opts := make([]message.PollOption, 0, len(p.Options))
	for _, o := range p.Options {
		opts = append(opts, message.PollOption{ID: o.ID, Text: o.Text, ImageURL: o.ImageURL, VoteCount: o.VoteCount})
	}
	return message.PollData{
		Title:              p.Title,
		Description:        p.Description,
		Options:            opts,
		PollType:           p.PollType,
		Category:           p.Category,
		AllowMultipleVotes: p.AllowMultipleVotes,
		ExpiresAt:          p.ExpiresAt,
		TotalVotes:         p.TotalVotes,
	}
}

type UserVote struct {
	OptionID string    `json:"optionId"`
	VotedAt  time.Time `json:"votedAt"`
}

type OptionView struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	ImageURL   string `json:"imageUrl"`
	VoteCount  *int   `json:"voteCount,omitempty"`
	Percentage *int   `json:"percentage,omitempty"`
}

// View is a poll as one user sees it: counts are hidden until the
// visibility rule lets that user see results.
type View struct {
	ID                 string       `json:"_id"`
	Creator            string       `json:"creator"`
	Title              string       `json:"title"`
	Description        string       `json:"description"`
	Options            []OptionView `json:"options"`
	PollType           string       `json:"pollType"`
	Category           string       `json:"category"`
	AllowMultipleVotes bool         `json:"allowMultipleVotes"`
	TotalVotes         *int         `json:"totalVotes,omitempty"`
	IsExpired          bool         `json:"isExpired"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	CreatedAt          time.Time    `json:"createdAt"`
	CanSeeResults      bool         `json:"canSeeResults"`
	UserVotes          []UserVote   `json:"userVotes"`
}

func (p *Poll) ViewFor(userID string, now time.Time) View {
	canSee := p.CanSeeResults(userID, now)
	v := View{
		ID:                 p.ID,
		Creator:            p.Creator,
		Title:              p.Title,
		Description:        p.Description,
		Options:            make([]OptionView, 0, len(p.Options)),
		PollType:           p.PollType,
		Category:           p.Category,
		AllowMultipleVotes: p.AllowMultipleVotes,
		IsExpired:          p.IsExpired(now),
		ExpiresAt:          p.ExpiresAt,
		CreatedAt:          p.CreatedAt,
		CanSeeResults:      canSee,
		UserVotes:          []UserVote{},
	}
	if canSee {
		total := p.TotalVotes
		v.TotalVotes = &total
	}
	for _, o := range p.Options {
		ov := OptionView{ID: o.ID, Text: o.Text, ImageURL: o.ImageURL}
		if canSee {
			count := o.VoteCount
			ov.VoteCount = &count
			if p.TotalVotes > 0 {
				pct := percentage(o.VoteCount, p.TotalVotes)
				ov.Percentage = &pct
			}
		}
		v.Options = append(v.Options, ov)
		if vote, ok := o.votedBy(userID); ok {
			v.UserVotes = append(v.UserVotes, UserVote{OptionID: o.ID, VotedAt: vote.VotedAt})
		}
	}
	return v
}
