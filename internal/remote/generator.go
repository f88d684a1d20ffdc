package remote

import (
	"context"
	"net/http"
	"strings"

	"github.com/tbourn/go-doppel-bot/internal/domain"
)

// Generator calls the inference service for a member's fine-tuned model.
type Generator struct {
	c *Client
}

// NewGenerator wraps c.
func NewGenerator(c *Client) *Generator { return &Generator{c: c} }

type generateRequest struct {
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	Prompt string `json:"prompt"`
	domain.SamplingConfig
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate continues prompt with the model trained for userKey in teamID.
func (g *Generator) Generate(ctx context.Context, teamID, userKey, prompt string, cfg domain.SamplingConfig) (string, error) {
	var resp generateResponse
	err := g.c.doJSON(ctx, http.MethodPost, "/v1/generate", generateRequest{
		User:           userKey,
		TeamID:         teamID,
		Prompt:         prompt,
		SamplingConfig: cfg,
	}, &resp)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrEmptyOutput
	}
	return resp.Text, nil
}
