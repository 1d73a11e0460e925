// Package ner is the client for the PII analysis and tokenisation
// collaborator. Detection and tokenisation happen remotely; this package
// only shapes requests and responses.
package ner

import (
	"context"
	"fmt"

	"github.com/gonkalabs/kpg-client/internal/sanitize"
	"github.com/gonkalabs/kpg-client/internal/upstream"
)

// Client calls /pii/analyse and /pii/tokenise.
type Client struct {
	up *upstream.Client
}

// New creates a Client on top of a shared upstream transport.
func New(up *upstream.Client) *Client {
	return &Client{up: up}
}

type analyseRequest struct {
	Text string `json:"text"`
}

type analyseResponse struct {
	Entities []sanitize.Entity `json:"entities"`
}

// Analyse returns the PII entities detected in text.
func (c *Client) Analyse(ctx context.Context, text string) ([]sanitize.Entity, error) {
	var resp analyseResponse
	if err := c.up.Post(ctx, upstream.PathAnalyse, analyseRequest{Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("ner: analyse: %w", err)
	}
	return resp.Entities, nil
}

type tokeniseRequest struct {
	Text     string            `json:"text"`
	Entities []sanitize.Entity `json:"entities"`
}

type tokeniseResponse struct {
	TokenisedText string `json:"tokenisedText"`
}

// Tokenise replaces each entity span in text with an opaque token.
func (c *Client) Tokenise(ctx context.Context, text string, entities []sanitize.Entity) (string, error) {
	if entities == nil {
		entities = []sanitize.Entity{}
	}
	var resp tokeniseResponse
	if err := c.up.Post(ctx, upstream.PathTokenise, tokeniseRequest{Text: text, Entities: entities}, &resp); err != nil {
		return "", fmt.Errorf("ner: tokenise: %w", err)
	}
	return resp.TokenisedText, nil
}
