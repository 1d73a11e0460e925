// Package evidence is the client for the search and summarisation
// collaborators. Only tokenised identifiers ever reach these services.
package evidence

import (
	"context"
	"fmt"

	"github.com/gonkalabs/kpg-client/internal/upstream"
)

// Snippet is one sanitised piece of evidence returned by search.
type Snippet struct {
	ID            string `json:"id"`
	TextSanitised string `json:"textSanitised"`
	Source        string `json:"source"`
}

// Summary is the summariser's answer with the sources it cites.
type Summary struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Client calls /search and /summarise.
type Client struct {
	up *upstream.Client
}

// New creates a Client on a shared upstream transport.
func New(up *upstream.Client) *Client {
	return &Client{up: up}
}

type searchRequest struct {
	SubjectToken string `json:"subjectToken"`
}

type searchResponse struct {
	Snippets []Snippet `json:"snippets"`
}

// Search returns evidence snippets about the subject token.
func (c *Client) Search(ctx context.Context, subjectToken string) ([]Snippet, error) {
	var resp searchResponse
	if err := c.up.Post(ctx, upstream.PathSearch, searchRequest{SubjectToken: subjectToken}, &resp); err != nil {
		return nil, fmt.Errorf("evidence: search: %w", err)
	}
	return resp.Snippets, nil
}

type summariseRequest struct {
	SubjectToken string    `json:"subjectToken"`
	Snippets     []Snippet `json:"snippets"`
}

// Summarise asks for an answer grounded in snippets.
func (c *Client) Summarise(ctx context.Context, subjectToken string, snippets []Snippet) (Summary, error) {
	var s Summary
	if err := c.up.Post(ctx, upstream.PathSummarise, summariseRequest{SubjectToken: subjectToken, Snippets: snippets}, &s); err != nil {
		return Summary{}, fmt.Errorf("evidence: summarise: %w", err)
	}
	if s.Citations == nil {
		s.Citations = []string{}
	}
	return s, nil
}
