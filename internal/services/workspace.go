package services

import (
	"context"

	"github.com/tbourn/go-doppel-bot/internal/conversation"
	"github.com/tbourn/go-doppel-bot/internal/identity"
	"github.com/tbourn/go-doppel-bot/internal/slack"
)

// Directory resolves workspace members and the bot's own member id.
type Directory interface {
	Identities(ctx context.Context, teamID string) (identity.Table, error)
	SelfID(ctx context.Context, teamID string) (string, error)
}

// ThreadReader loads a thread's messages.
type ThreadReader interface {
	Thread(ctx context.Context, channel, threadTS string) ([]conversation.Message, error)
}

// Post is one message to deliver.
type Post struct {
	Channel  string
	ThreadTS string
	Text     string
	Username string
	IconURL  string
}

// Poster delivers messages into a channel.
type Poster interface {
	Post(ctx context.Context, p Post) error
}

// Responder answers a slash command through its response URL.
type Responder interface {
	Respond(ctx context.Context, responseURL, text string) error
}

// SlackAPI is the part of the Slack client the workspace adapter uses.
type SlackAPI interface {
	UsersList(ctx context.Context, cursor string) (slack.UsersPage, error)
	AuthTest(ctx context.Context) (slack.AuthInfo, error)
	Thread(ctx context.Context, channel, ts string) ([]slack.Message, error)
	PostMessage(ctx context.Context, in slack.PostMessageInput) (string, error)
	Respond(ctx context.Context, responseURL, text string) error
}

// SlackWorkspace adapts the Slack client and the identity cache to the
// service interfaces.
type SlackWorkspace struct {
	API   SlackAPI
	Cache *identity.Cache
}

// NewSlackWorkspace returns an adapter with a fresh identity cache.
func NewSlackWorkspace(api SlackAPI) *SlackWorkspace {
	return &SlackWorkspace{API: api, Cache: identity.NewCache()}
}

func (w *SlackWorkspace) Identities(ctx context.Context, teamID string) (identity.Table, error) {
	return w.Cache.Identities(ctx, teamID, func(ctx context.Context, cursor string) (identity.Page, error) {
		p, err := w.API.UsersList(ctx, cursor)
		if err != nil {
			return identity.Page{}, err
		}
		members := make([]identity.Member, 0, len(p.Members))
		for _, u := range p.Members {
			members = append(members, identity.Member{
				ID:          u.ID,
				DisplayName: u.Profile.DisplayName,
				RealName:    u.Profile.RealName,
				AvatarURL:   u.Profile.Image512,
			})
		}
		return identity.Page{Members: members, HasMore: p.HasMore, NextCursor: p.NextCursor}, nil
	})
}

func (w *SlackWorkspace) SelfID(ctx context.Context, teamID string) (string, error) {
	return w.Cache.SelfID(ctx, teamID, func(ctx context.Context) (string, error) {
		info, err := w.API.AuthTest(ctx)
		if err != nil {
			return "", err
		}
		return info.UserID, nil
	})
}

func (w *SlackWorkspace) Thread(ctx context.Context, channel, threadTS string) ([]conversation.Message, error) {
	raw, err := w.API.Thread(ctx, channel, threadTS)
	if err != nil {
		return nil, err
	}
	out := make([]conversation.Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, conversation.Message{SenderID: m.User, Text: m.Text, Timestamp: m.TS})
	}
	return out, nil
}

func (w *SlackWorkspace) Post(ctx context.Context, p Post) error {
	_, err := w.API.PostMessage(ctx, slack.PostMessageInput{
		Channel:  p.Channel,
		Text:     p.Text,
		ThreadTS: p.ThreadTS,
		Username: p.Username,
		IconURL:  p.IconURL,
	})
	return err
}

func (w *SlackWorkspace) Respond(ctx context.Context, responseURL, text string) error {
	return w.API.Respond(ctx, responseURL, text)
}
