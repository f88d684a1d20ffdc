package remote

import (
	"context"
	"fmt"
	"net/http"
)

// Collector asks the collection service to gather a member's message history
// into a training corpus.
type Collector struct {
	c *Client
}

// NewCollector wraps c.
func NewCollector(c *Client) *Collector { return &Collector{c: c} }

type collectRequest struct {
	User     string `json:"user"`
	TeamID   string `json:"team_id"`
	BotToken string `json:"bot_token,omitempty"`
}

type collectResponse struct {
	Samples *int `json:"samples"`
}

// Collect runs a collection for userKey in teamID and returns the number of
// samples gathered. authToken lets the service read the workspace.
func (col *Collector) Collect(ctx context.Context, userKey, teamID, authToken string) (int, error) {
	var resp collectResponse
	err := col.c.doJSONOnce(ctx, http.MethodPost, "/v1/collect", collectRequest{
		User:     userKey,
		TeamID:   teamID,
		BotToken: authToken,
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.Samples == nil {
		return 0, fmt.Errorf("collect: response missing samples")
	}
	if *resp.Samples < 0 {
		return 0, fmt.Errorf("collect: negative sample count %d", *resp.Samples)
	}
	return *resp.Samples, nil
}
