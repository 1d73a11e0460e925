package workflow

import (
	"github.com/gonkalabs/kpg-client/internal/audit"
	"github.com/gonkalabs/kpg-client/internal/evidence"
	"github.com/gonkalabs/kpg-client/internal/policy"
	"github.com/gonkalabs/kpg-client/internal/sanitize"
)

// View is the observable state of a session, as shown by the UI.
type View struct {
	CaseID        string             `json:"caseId"`
	State         State              `json:"state"`
	Busy          bool               `json:"busy"`
	Text          string             `json:"text"`
	Entities      []sanitize.Entity  `json:"entities"`
	Overlay       []sanitize.Run     `json:"overlay"`
	TokenisedText string             `json:"tokenisedText"`
	SubjectToken  string             `json:"subjectToken,omitempty"`
	Policy        *policy.Verdict    `json:"policy"`
	Permitted     bool               `json:"permitted"`
	Snippets      []evidence.Snippet `json:"snippets"`
	Answer        string             `json:"answer"`
	Citations     []string           `json:"citations"`
	LastError     string             `json:"lastError,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	Audit         audit.Status       `json:"audit"`
}

// View returns a consistent snapshot of s.
func (s *Session) View() View {
	s.mu.Lock()
	v := View{
		CaseID:        s.caseID,
		State:         s.state,
		Busy:          s.busy.Load(),
		Text:          s.text,
		Entities:      append([]sanitize.Entity{}, s.entities...),
		TokenisedText: s.tokenised,
		Policy:        s.verdict,
		Permitted:     policy.IsActionPermitted(s.verdict),
		Snippets:      append([]evidence.Snippet{}, s.snippets...),
		Answer:        s.answer,
		Citations:     append([]string{}, s.citations...),
		LastError:     s.lastError,
		Warnings:      append([]string(nil), s.warnings...),
	}
	s.mu.Unlock()

	v.Overlay = sanitize.RenderAll(v.Text, v.Entities)
	v.SubjectToken, _ = sanitize.SubjectToken(v.TokenisedText)
	v.Audit = s.chain.Status()
	return v
}
