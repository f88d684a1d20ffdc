package remote

import (
	"context"
	"net/http"
)

// FineTuner asks the training service to fine-tune a member's model on the
// collected corpus.
type FineTuner struct {
	c *Client
}

// NewFineTuner wraps c.
func NewFineTuner(c *Client) *FineTuner { return &FineTuner{c: c} }

type trainRequest struct {
	User   string `json:"user"`
	TeamID string `json:"team_id"`
}

// Train blocks until the run finishes.
func (f *FineTuner) Train(ctx context.Context, userKey, teamID string) error {
	return f.c.doJSONOnce(ctx, http.MethodPost, "/v1/finetune", trainRequest{User: userKey, TeamID: teamID}, nil)
}
