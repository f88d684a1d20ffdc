// Slack callback handlers.
//
// This file exposes the two endpoints Slack calls:
//   - POST /slack/events    (Events API: url_verification, app_mention)
//   - POST /slack/commands  (slash command "/doppel <user>")
//
// Both run behind middleware.SlackSignature and read the verified raw body
// from the request context. Slack expects an answer within three seconds, so
// the slow work (mention replies, training) is handed to the Runner and the
// request is acknowledged at once.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-doppel-bot/internal/http/middleware"
	"github.com/tbourn/go-doppel-bot/internal/services"
	"github.com/tbourn/go-doppel-bot/internal/slack"
)

// GenericFailureText is the reply when a command fails unexpectedly.
const GenericFailureText = "Something went wrong. Try again in a bit!"

// ChallengeResponse answers a url_verification handshake.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

// SlackEvents godoc
// @ID          slackEvents
// @Summary     Slack Events API callback
// @Description Answers url_verification and acknowledges app_mention events; replies are posted asynchronously in the thread. Requests must carry a valid Slack signature.
// @Tags        Slack
// @Accept      json
// @Produce     json
//
// @Param       X-Slack-Signature          header  string  true  "v0 HMAC signature"
// @Param       X-Slack-Request-Timestamp  header  string  true  "Unix seconds"
//
// @Success     200  {object} handlers.ChallengeResponse "Challenge echo or empty ack"
// @Failure     400  {object} handlers.ErrorResponse "Malformed payload"
// @Failure     401  {object} handlers.ErrorResponse "Bad signature"
// @Failure     503  {object} handlers.ErrorResponse "Shutting down"
// @Router      /slack/events [post]
func (h *Handlers) SlackEvents(c *gin.Context) {
	env, err := slack.ParseEnvelope(middleware.RawBody(c))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEvent, "malformed event payload")
		return
	}

	switch env.Type {
	case slack.TypeURLVerification:
		ok(c, http.StatusOK, ChallengeResponse{Challenge: env.Challenge})
		return
	case slack.TypeEventCallback:
	default:
		slackAck(c)
		return
	}

	middleware.SetTeamID(c, env.TeamID)
	lg := middleware.LoggerFrom(c)

	ev, err := env.Inner()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEvent, "malformed inner event")
		return
	}
	if ev.Type != slack.EventAppMention {
		slackAck(c)
		return
	}

	// Drop Slack's redeliveries of an event we already accepted.
	if h.events != nil {
		fresh, err := h.events.Record(c.Request.Context(), env.TeamID, env.EventID, h.receiptTTL)
		if err != nil {
			lg.Warn().Err(err).Str("event_id", env.EventID).Msg("event receipt failed; processing anyway")
		} else if !fresh {
			lg.Info().Str("event_id", env.EventID).Msg("duplicate event delivery dropped")
			slackAck(c)
			return
		}
	}

	mention := services.MentionEvent{
		TeamID:   env.TeamID,
		Channel:  ev.Channel,
		ThreadTS: ev.ThreadRoot(),
	}
	base := context.WithoutCancel(c.Request.Context())
	timeout := h.mentionTimeout
	started := h.runner.Go("mention:"+env.TeamID+":"+env.EventID, func() {
		ctx, cancel := context.WithTimeout(base, timeout)
		defer cancel()
		if _, err := h.mentions.Handle(ctx, mention); err != nil {
			log.Error().
				Err(err).
				Str("team_id", mention.TeamID).
				Str("channel", mention.Channel).
				Str("thread_ts", mention.ThreadTS).
				Msg("mention reply failed")
		}
	})
	if !started {
		fail(c, http.StatusServiceUnavailable, ErrCodeShuttingDown, "shutting down")
		return
	}
	slackAck(c)
}

// SlackCommand godoc
// @ID          slackCommand
// @Summary     Slack slash command callback
// @Description Handles "/doppel <user>": validates the user and starts training in the background. Progress arrives via the command's response_url.
// @Tags        Slack
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       X-Slack-Signature          header  string  true  "v0 HMAC signature"
// @Param       X-Slack-Request-Timestamp  header  string  true  "Unix seconds"
//
// @Success     200  {object} handlers.SlackMessage "Ephemeral reply or empty ack"
// @Failure     400  {object} handlers.ErrorResponse "Malformed payload"
// @Failure     401  {object} handlers.ErrorResponse "Bad signature"
// @Router      /slack/commands [post]
func (h *Handlers) SlackCommand(c *gin.Context) {
	cmd, err := slack.ParseSlashCommand(middleware.RawBody(c))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidEvent, "malformed command payload")
		return
	}
	middleware.SetTeamID(c, cmd.TeamID)

	reply, err := h.commands.Train(c.Request.Context(), services.Command{
		TeamID:      cmd.TeamID,
		Text:        cmd.Text,
		ResponseURL: cmd.ResponseURL,
	})
	switch {
	case err == nil, errors.Is(err, services.ErrUserNotFound), errors.Is(err, services.ErrShuttingDown):
		// User-facing outcomes carry their own reply text.
	default:
		middleware.LoggerFrom(c).Error().Err(err).Str("text", cmd.Text).Msg("command failed")
		reply = GenericFailureText
	}

	if reply == "" {
		slackAck(c)
		return
	}
	slackReply(c, reply)
}
