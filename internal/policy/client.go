package policy

import (
	"context"
	"fmt"

	"github.com/gonkalabs/kpg-client/internal/upstream"
)

// Client calls the policy engine.
type Client struct {
	up *upstream.Client
}

// NewClient creates a policy Client on a shared upstream transport.
func NewClient(up *upstream.Client) *Client {
	return &Client{up: up}
}

type checkRequest struct {
	TokenisedText string   `json:"tokenisedText"`
	EntityTypes   []string `json:"entityTypes"`
}

// Check asks the policy engine for a verdict on tokenised text. The
// returned verdict is normalised.
func (c *Client) Check(ctx context.Context, tokenisedText string, entityTypes []string) (*Verdict, error) {
	if entityTypes == nil {
		entityTypes = []string{}
	}
	var v Verdict
	if err := c.up.Post(ctx, upstream.PathPolicy, checkRequest{TokenisedText: tokenisedText, EntityTypes: entityTypes}, &v); err != nil {
		return nil, fmt.Errorf("policy: check: %w", err)
	}
	v.Degraded = false
	return Normalize(&v), nil
}
