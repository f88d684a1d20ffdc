// Package services – CommandService
//
// This file implements the "/doppel <user>" command. The command is
// acknowledged at once; the training pipeline runs in the background and
// reports milestones back through the command's response URL.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// UsageText is the reply to a command without a user.
const UsageText = "Usage: /doppel <user>"

// Command is a decoded training command.
type Command struct {
	TeamID      string
	Text        string
	ResponseURL string
}

// Trainer starts detached training runs.
type Trainer interface {
	Start(ctx context.Context, teamID, userKey, authToken string, progress Progress) error
}

// CommandService handles training commands.
type CommandService struct {
	Directory Directory
	Trainer   Trainer
	Responder Responder

	// AuthToken is handed to the collection service so it can read history.
	AuthToken string

	// RespondTimeout bounds each progress delivery.
	RespondTimeout time.Duration
}

// Train validates the command and starts a pipeline. The returned text is the
// immediate reply to the invoking user; empty means a bare acknowledgement.
// An unknown user yields ErrUserNotFound together with its reply text.
func (s *CommandService) Train(ctx context.Context, cmd Command) (string, error) {
	user := strings.TrimSpace(cmd.Text)
	if user == "" {
		return UsageText, nil
	}

	table, err := s.Directory.Identities(ctx, cmd.TeamID)
	if err != nil {
		return "", fmt.Errorf("resolve identities: %w", err)
	}
	if _, ok := table.Lookup(user); !ok {
		return fmt.Sprintf("User %s not found.", user), ErrUserNotFound
	}

	if err := s.Trainer.Start(ctx, cmd.TeamID, user, s.AuthToken, s.progress(cmd)); err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return "The bot is restarting. Try again in a bit!", err
		}
		return "", err
	}
	return "", nil
}

func (s *CommandService) progress(cmd Command) Progress {
	timeout := s.RespondTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(msg string) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Responder.Respond(ctx, cmd.ResponseURL, msg); err != nil {
			log.Warn().
				Err(err).
				Str("team_id", cmd.TeamID).
				Msg("progress delivery failed")
		}
	}
}
