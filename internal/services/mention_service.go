// Package services – MentionService
//
// This file implements the reply path for a bot mention: load the thread,
// cut the newest slice that fits the prompt budget, pick the team's trained
// speaker, generate, and post the generated turns back into the thread under
// the speaker's name and avatar.
package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-doppel-bot/internal/conversation"
	"github.com/tbourn/go-doppel-bot/internal/domain"
	"github.com/tbourn/go-doppel-bot/internal/identity"
)

// NoSpeakerText is posted when the team has no trained member yet.
const NoSpeakerText = "No users trained yet. Run /doppel <user> first."

// Generator produces text from a member's fine-tuned model.
type Generator interface {
	Generate(ctx context.Context, teamID, userKey, prompt string, cfg domain.SamplingConfig) (string, error)
}

// MentionEvent identifies the thread a mention arrived in.
type MentionEvent struct {
	TeamID   string
	Channel  string
	ThreadTS string
}

// MentionService answers mentions.
type MentionService struct {
	Directory Directory
	Threads   ThreadReader
	Poster    Poster
	Generator Generator
	Jobs      JobStore

	MaxInputChars int
	Sampling      domain.SamplingConfig
}

// NewMentionService applies the default budget and sampling values.
func NewMentionService(dir Directory, threads ThreadReader, poster Poster, gen Generator, jobs JobStore) *MentionService {
	return &MentionService{
		Directory:     dir,
		Threads:       threads,
		Poster:        poster,
		Generator:     gen,
		Jobs:          jobs,
		MaxInputChars: 512,
		Sampling:      domain.DefaultSampling(),
	}
}

// Handle replies to one mention and returns how many messages were posted.
// A generation failure returns ErrInferenceFailed and posts nothing.
func (s *MentionService) Handle(ctx context.Context, ev MentionEvent) (int, error) {
	tr := otel.Tracer("services/MentionService")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("team.id", ev.TeamID),
			attribute.String("channel.id", ev.Channel),
		),
	)
	defer span.End()

	n, err := s.handle(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return n, err
}

func (s *MentionService) handle(ctx context.Context, ev MentionEvent) (int, error) {
	table, err := s.Directory.Identities(ctx, ev.TeamID)
	if err != nil {
		return 0, fmt.Errorf("resolve identities: %w", err)
	}
	selfID, err := s.Directory.SelfID(ctx, ev.TeamID)
	if err != nil {
		return 0, fmt.Errorf("resolve self id: %w", err)
	}

	msgs, err := s.Threads.Thread(ctx, ev.Channel, ev.ThreadTS)
	if err != nil {
		return 0, fmt.Errorf("load thread: %w", err)
	}
	conversation.SortChronological(msgs)
	prompt := conversation.BuildWindow(msgs, selfID, s.MaxInputChars)

	speaker, who, err := s.speaker(ctx, ev.TeamID, table)
	if err != nil {
		return 0, err
	}
	if speaker == "" {
		mentions.WithLabelValues(outcomeNoSpeaker).Inc()
		if err := s.Poster.Post(ctx, Post{Channel: ev.Channel, ThreadTS: ev.ThreadTS, Text: NoSpeakerText}); err != nil {
			log.Warn().Err(err).Str("team_id", ev.TeamID).Msg("post failed")
			return 0, nil
		}
		return 1, nil
	}

	out, err := s.Generator.Generate(ctx, ev.TeamID, speaker, prompt, s.Sampling)
	if err != nil {
		mentions.WithLabelValues(outcomeGenFailure).Inc()
		return 0, fmt.Errorf("%w: %w", ErrInferenceFailed, err)
	}

	fragments := conversation.Split(out, conversation.SpeakerPrefixes(table.SpeakerLabels()))
	posted := 0
	for _, text := range fragments {
		err := s.Poster.Post(ctx, Post{
			Channel:  ev.Channel,
			ThreadTS: ev.ThreadTS,
			Text:     text,
			Username: speaker + "-bot",
			IconURL:  who.AvatarURL,
		})
		if err != nil {
			log.Warn().
				Err(err).
				Str("team_id", ev.TeamID).
				Str("channel", ev.Channel).
				Msg("post failed; skipping fragment")
			continue
		}
		posted++
	}
	mentions.WithLabelValues(outcomeReplied).Inc()
	return posted, nil
}

// speaker picks the most recently trained member still present in the
// workspace. An empty key means none.
func (s *MentionService) speaker(ctx context.Context, teamID string, table identity.Table) (string, identity.Identity, error) {
	jobs, err := s.Jobs.Succeeded(ctx, teamID)
	if err != nil {
		return "", identity.Identity{}, fmt.Errorf("%w: %w", ErrJobStore, err)
	}
	for _, j := range jobs {
		if id, ok := table.Lookup(j.UserKey); ok {
			return j.UserKey, id, nil
		}
	}
	return "", identity.Identity{}, nil
}
