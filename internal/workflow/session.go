package workflow

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gonkalabs/kpg-client/internal/audit"
	"github.com/gonkalabs/kpg-client/internal/evidence"
	"github.com/gonkalabs/kpg-client/internal/logging"
	"github.com/gonkalabs/kpg-client/internal/policy"
	"github.com/gonkalabs/kpg-client/internal/sanitize"
)

// State is the workflow position of a session.
type State string

const (
	StateIdle           State = "idle"
	StateAnalysing      State = "analysing"
	StateAnalysed       State = "analysed"
	StateTokenising     State = "tokenising"
	StatePolicyChecking State = "policy_checking"
	StateReady          State = "ready"
	StateSearching      State = "searching"
	StateSummarising    State = "summarising"
	StateDone           State = "done"
)

// Step names the remote step a failure or audit event belongs to.
type Step string

const (
	StepAnalyse   Step = "analyse"
	StepTokenise  Step = "tokenise"
	StepPolicy    Step = "policy"
	StepSearch    Step = "search"
	StepSummarise Step = "summarise"
)

// Session is one analyst case. All fields are owned by the orchestrator;
// callers read them through View.
type Session struct {
	caseID string
	chain  *audit.Chain
	busy   atomic.Bool
	log    *logging.Logger

	mu        sync.Mutex
	state     State
	text      string
	entities  []sanitize.Entity
	tokenised string
	verdict   *policy.Verdict
	snippets  []evidence.Snippet
	answer    string
	citations []string
	lastError string
	warnings  []string
}

// NewSession creates a session with a fresh case id, recording into chain.
func NewSession(chain *audit.Chain) *Session {
	caseID := "case-" + uuid.NewString()
	return &Session{
		caseID: caseID,
		chain:  chain,
		log:    logging.Nop().WithCase(caseID),
		state:  StateIdle,
	}
}

// CaseID returns the session's stable case id.
func (s *Session) CaseID() string { return s.caseID }

// Busy reports whether a stage is in flight.
func (s *Session) Busy() bool { return s.busy.Load() }

func (s *Session) acquire() bool { return s.busy.CompareAndSwap(false, true) }

func (s *Session) release() { s.busy.Store(false) }

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// snapshotInputs returns what a stage reads at its start.
func (s *Session) snapshotInputs() (State, string, []sanitize.Entity, string, *policy.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.text, s.entities, s.tokenised, s.verdict
}

func (s *Session) warn(msg string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, msg)
	s.mu.Unlock()
}

// beginStage clears per-stage diagnostics.
func (s *Session) beginStage() {
	s.mu.Lock()
	s.lastError = ""
	s.warnings = nil
	s.mu.Unlock()
}

// clearDerived drops everything computed from the entities. Caller holds mu.
func (s *Session) clearDerived() {
	s.tokenised = ""
	s.verdict = nil
	s.snippets = nil
	s.answer = ""
	s.citations = nil
}
