package main

import (
	"github.com/tbourn/go-doppel-bot/internal/config"
	"github.com/tbourn/go-doppel-bot/internal/remote"
	"github.com/tbourn/go-doppel-bot/internal/services"
	"github.com/tbourn/go-doppel-bot/internal/slack"
)

// app holds the wired services shared by serve and train.
type app struct {
	Runner    *services.Runner
	Workspace *services.SlackWorkspace
	Training  *services.TrainingService
	Mentions  *services.MentionService
	Commands  *services.CommandService
	Jobs      *services.JobService
}

// newApp wires the Slack client, the three remote services and the
// application services on top of st.
func newApp(cfg config.Config, st *stores) (*app, error) {
	collector, err := remote.New(remote.Options{
		BaseURL: cfg.Remote.CollectorURL,
		Token:   cfg.Remote.Token,
	})
	if err != nil {
		return nil, err
	}
	finetuner, err := remote.New(remote.Options{
		BaseURL: cfg.Remote.FineTunerURL,
		Token:   cfg.Remote.Token,
	})
	if err != nil {
		return nil, err
	}
	inference, err := remote.New(remote.Options{
		BaseURL:    cfg.Remote.InferenceURL,
		Token:      cfg.Remote.Token,
		Timeout:    cfg.Remote.Timeout,
		MaxRetries: 1,
	})
	if err != nil {
		return nil, err
	}

	ws := services.NewSlackWorkspace(slack.NewClient(cfg.Slack.BotToken, cfg.Slack.APIBaseURL))
	runner := services.NewRunner()

	training := services.NewTrainingService(st.Jobs, remote.NewCollector(collector), remote.NewFineTuner(finetuner), runner)
	training.Timeout = cfg.PipelineTimeout

	mentions := services.NewMentionService(ws, ws, ws, remote.NewGenerator(inference), st.Jobs)
	mentions.MaxInputChars = cfg.MaxInputChars
	mentions.Sampling = cfg.Sampling

	return &app{
		Runner:    runner,
		Workspace: ws,
		Training:  training,
		Mentions:  mentions,
		Commands: &services.CommandService{
			Directory: ws,
			Trainer:   training,
			Responder: ws,
			AuthToken: cfg.Slack.BotToken,
		},
		Jobs: services.NewJobService(st.Jobs),
	}, nil
}
