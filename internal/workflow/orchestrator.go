// Package workflow drives a case through analyse, tokenise, policy check
// and the gated search-and-summarise action.
//
// Each stage is a method on Orchestrator taking the Session it works on.
// A session runs one stage at a time; audit events are recorded through
// the session's chain and never fail the stage that emits them.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/gonkalabs/kpg-client/internal/audit"
	"github.com/gonkalabs/kpg-client/internal/evidence"
	"github.com/gonkalabs/kpg-client/internal/logging"
	"github.com/gonkalabs/kpg-client/internal/policy"
	"github.com/gonkalabs/kpg-client/internal/sanitize"
	"github.com/gonkalabs/kpg-client/internal/upstream"
)

// PIIService detects and tokenises PII.
type PIIService interface {
	Analyse(ctx context.Context, text string) ([]sanitize.Entity, error)
	Tokenise(ctx context.Context, text string, entities []sanitize.Entity) (string, error)
}

// PolicyService returns a verdict for tokenised text.
type PolicyService interface {
	Check(ctx context.Context, tokenisedText string, entityTypes []string) (*policy.Verdict, error)
}

// EvidenceService searches and summarises evidence about a subject token.
type EvidenceService interface {
	Search(ctx context.Context, subjectToken string) ([]evidence.Snippet, error)
	Summarise(ctx context.Context, subjectToken string, snippets []evidence.Snippet) (evidence.Summary, error)
}

const defaultPreviewLen = 80

// Orchestrator sequences collaborator calls for sessions. It holds no
// per-session state and is safe for concurrent use across sessions.
type Orchestrator struct {
	pii      PIIService
	policy   PolicyService
	evidence EvidenceService
	appender audit.Appender
	journal  audit.Journal

	strict     bool
	previewLen int
	observer   func(View)
	log        *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStrictPolicy selects the verdict used when the policy call fails:
// red when strict, amber otherwise.
func WithStrictPolicy(strict bool) Option {
	return func(o *Orchestrator) { o.strict = strict }
}

// WithPreviewLen bounds the tokenise audit preview, in code points.
func WithPreviewLen(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.previewLen = n
		}
	}
}

// WithJournal mirrors audit receipts of every new session into j.
func WithJournal(j audit.Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithObserver registers fn to receive a View after every state change.
func WithObserver(fn func(View)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l.WithComponent("workflow") }
}

// New creates an Orchestrator. Strict policy degradation is the default.
func New(pii PIIService, pol PolicyService, ev EvidenceService, appender audit.Appender, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pii:        pii,
		policy:     pol,
		evidence:   ev,
		appender:   appender,
		strict:     true,
		previewLen: defaultPreviewLen,
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewSession starts a case with its own audit chain.
func (o *Orchestrator) NewSession() *Session {
	chainOpts := []audit.ChainOption{audit.WithLogger(o.log)}
	if o.journal != nil {
		chainOpts = append(chainOpts, audit.WithJournal(o.journal))
	}
	s := NewSession(audit.NewChain(o.appender, chainOpts...))
	s.log = o.log.WithCase(s.caseID)
	return s
}

// SetText replaces the session's text. A changed text invalidates the
// entities and everything derived from them.
func (o *Orchestrator) SetText(s *Session, text string) error {
	if !s.acquire() {
		return ErrBusy
	}
	defer o.finish(s)

	s.mu.Lock()
	if s.text != text {
		s.text = text
		s.entities = nil
		s.clearDerived()
		s.state = StateIdle
		s.lastError = ""
		s.warnings = nil
	}
	s.mu.Unlock()
	return nil
}

// Reset clears every derived field and starts a new audit chain. The case
// id and text are kept. No collaborator is called.
func (o *Orchestrator) Reset(s *Session) error {
	if !s.acquire() {
		return ErrBusy
	}
	defer o.finish(s)

	s.mu.Lock()
	s.entities = nil
	s.clearDerived()
	s.state = StateIdle
	s.lastError = ""
	s.warnings = nil
	s.mu.Unlock()
	s.chain.Reset()

	s.log.Info("session reset")
	return nil
}

// Close retires s. It takes the session's busy flag and never releases
// it, so every later stage on s fails with ErrBusy. Closing a session with
// a stage in flight fails with ErrBusy.
func (o *Orchestrator) Close(s *Session) error {
	if !s.acquire() {
		return ErrBusy
	}
	s.log.Info("session closed")
	return nil
}

// Analyse detects entities in the session's text.
func (o *Orchestrator) Analyse(ctx context.Context, s *Session) error {
	if !s.acquire() {
		return ErrBusy
	}
	defer o.finish(s)
	s.beginStage()
	return o.analyse(ctx, s)
}

func (o *Orchestrator) analyse(ctx context.Context, s *Session) error {
	prev, text, _, _, _ := s.snapshotInputs()
	if strings.TrimSpace(text) == "" {
		return o.reject(s, StepAnalyse, "enter the case text before running analyse")
	}

	o.transition(s, StateAnalysing)
	start := time.Now()
	entities, err := o.pii.Analyse(ctx, text)
	if err != nil {
		if !o.tolerate(s, StepAnalyse, err) {
			return o.fail(s, prev, StepAnalyse, err)
		}
		entities = nil
	}
	o.checkEntities(s, text, entities)
	if entities == nil {
		entities = []sanitize.Entity{}
	}

	s.mu.Lock()
	s.entities = entities
	s.clearDerived()
	s.state = StateAnalysed
	s.mu.Unlock()

	textLen := utf8.RuneCountInString(text)
	s.chain.Log(ctx, s.caseID, audit.EventAnalyse, audit.AnalysePayload{TextLen: textLen, Found: len(entities)})
	s.log.Info("analyse complete",
		zap.Int("text_len", textLen),
		zap.Int("entities", len(entities)),
		zap.Duration("took", time.Since(start)),
	)
	o.notify(s)
	return nil
}

// Tokenise replaces entities with tokens and obtains a policy verdict for
// the result. When no entities are held yet, Analyse runs first. A failed
// policy call still leaves a verdict: the degraded one, never green.
func (o *Orchestrator) Tokenise(ctx context.Context, s *Session) error {
	if !s.acquire() {
		return ErrBusy
	}
	defer o.finish(s)
	s.beginStage()

	if _, _, entities, _, _ := s.snapshotInputs(); len(entities) == 0 {
		if err := o.analyse(ctx, s); err != nil {
			return err
		}
	}

	prev, text, entities, _, _ := s.snapshotInputs()
	o.transition(s, StateTokenising)
	start := time.Now()
	tokenised, err := o.pii.Tokenise(ctx, text, entities)
	if err != nil {
		if !o.tolerate(s, StepTokenise, err) {
			return o.fail(s, prev, StepTokenise, err)
		}
		tokenised = ""
	}

	s.mu.Lock()
	s.clearDerived()
	s.tokenised = tokenised
	s.state = StatePolicyChecking
	s.mu.Unlock()
	s.chain.Log(ctx, s.caseID, audit.EventTokenise, audit.TokenisePayload{Preview: audit.Preview(tokenised, o.previewLen)})
	o.notify(s)

	var stageErr error
	verdict, err := o.policy.Check(ctx, tokenised, sanitize.EntityTypes(entities))
	if err != nil {
		verdict = policy.DegradedVerdict(err, o.strict)
		stageErr = &StageError{Step: StepPolicy, Err: err}
		s.log.Warn("policy check failed, using degraded verdict",
			zap.String("level", string(verdict.Level)),
			zap.Error(err),
		)
	} else if verdict == nil {
		verdict = policy.DegradedVerdict(errors.New("empty verdict"), o.strict)
	}

	s.mu.Lock()
	s.verdict = verdict
	s.state = StateReady
	if stageErr != nil {
		s.lastError = stageErr.Error()
	}
	s.mu.Unlock()
	s.chain.Log(ctx, s.caseID, audit.EventPolicy, verdict)

	s.log.Info("tokenise complete",
		zap.Int("tokenised_len", utf8.RuneCountInString(tokenised)),
		zap.String("level", string(verdict.Level)),
		zap.Bool("degraded", verdict.Degraded),
		zap.Duration("took", time.Since(start)),
	)
	o.notify(s)
	return stageErr
}

// SearchAndSummarise is the gated action. It needs a subject token in the
// tokenised text and a verdict that permits the action; otherwise it is
// rejected without any network call.
func (o *Orchestrator) SearchAndSummarise(ctx context.Context, s *Session) error {
	if !s.acquire() {
		return ErrBusy
	}
	defer o.finish(s)
	s.beginStage()

	prev, _, _, tokenised, verdict := s.snapshotInputs()
	subject, ok := sanitize.SubjectToken(tokenised)
	if !ok {
		return o.reject(s, StepSearch, noSubjectReason(tokenised))
	}
	if !policy.IsActionPermitted(verdict) {
		return o.reject(s, StepSearch, notPermittedReason(verdict))
	}

	o.transition(s, StateSearching)
	start := time.Now()
	snippets, err := o.evidence.Search(ctx, subject)
	if err != nil {
		if !o.tolerate(s, StepSearch, err) {
			return o.fail(s, prev, StepSearch, err)
		}
		snippets = nil
	}
	if snippets == nil {
		snippets = []evidence.Snippet{}
	}

	s.mu.Lock()
	s.snippets = snippets
	s.answer = ""
	s.citations = nil
	s.mu.Unlock()
	s.chain.Log(ctx, s.caseID, audit.EventSearch, audit.SearchPayload{Got: len(snippets)})

	if len(snippets) == 0 {
		o.transition(s, StateDone)
		s.log.Info("search returned no evidence")
		return nil
	}

	o.transition(s, StateSummarising)
	summary, err := o.evidence.Summarise(ctx, subject, snippets)
	if err != nil {
		if !o.tolerate(s, StepSummarise, err) {
			return o.fail(s, prev, StepSummarise, err)
		}
		summary = evidence.Summary{}
	}
	if summary.Citations == nil {
		summary.Citations = []string{}
	}

	s.mu.Lock()
	s.answer = summary.Answer
	s.citations = summary.Citations
	s.state = StateDone
	s.mu.Unlock()
	s.chain.Log(ctx, s.caseID, audit.EventSummarise, audit.SummarisePayload{
		Len:   utf8.RuneCountInString(summary.Answer),
		Cites: summary.Citations,
	})

	s.log.Info("summarise complete",
		zap.Int("snippets", len(snippets)),
		zap.Int("citations", len(summary.Citations)),
		zap.Duration("took", time.Since(start)),
	)
	o.notify(s)
	return nil
}

func noSubjectReason(tokenised string) string {
	if tokenised == "" {
		return "run tokenise first: there is no tokenised text to search with"
	}
	others := len(sanitize.Tokens(tokenised))
	return fmt.Sprintf("no subject token (%s_XXXX) in the tokenised text (%d other tokens found); "+
		"mark the subject of the case and re-run tokenise", sanitize.SubjectPrefix, others)
}

func notPermittedReason(v *policy.Verdict) string {
	if v == nil {
		return "run tokenise first: no policy verdict has been obtained"
	}
	reason := fmt.Sprintf("policy verdict is %s, only green permits search", v.Level)
	if len(v.RequiredActions) > 0 {
		reason += "; required: " + strings.Join(v.RequiredActions, "; ")
	}
	return reason
}

// tolerate reports whether err is a bad response, which the stage absorbs
// by falling back to the zero value with a warning.
func (o *Orchestrator) tolerate(s *Session, step Step, err error) bool {
	if !errors.Is(err, upstream.ErrBadResponse) {
		return false
	}
	s.warn(fmt.Sprintf("%s: malformed response, using empty result", step))
	s.log.Warn("bad response tolerated",
		zap.String("stage", string(step)),
		zap.Error(err),
	)
	return true
}

func (o *Orchestrator) checkEntities(s *Session, text string, entities []sanitize.Entity) {
	for i, e := range entities {
		if err := sanitize.Validate(text, e); err != nil {
			// Value may be PII; log position and type only.
			s.log.Warn("entity out of bounds",
				zap.Int("index", i),
				zap.String("type", e.Type),
				zap.Int("start", e.Start),
				zap.Int("end", e.End),
			)
		}
	}
}

func (o *Orchestrator) reject(s *Session, step Step, reason string) error {
	err := &PreconditionError{Step: step, Reason: reason}
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
	s.log.Info("stage rejected", zap.String("stage", string(step)))
	return err
}

func (o *Orchestrator) fail(s *Session, prev State, step Step, err error) error {
	stageErr := &StageError{Step: step, Err: err}
	s.mu.Lock()
	s.state = prev
	s.lastError = stageErr.Error()
	s.mu.Unlock()
	s.log.Error("stage failed",
		zap.String("stage", string(step)),
		zap.Error(err),
	)
	return stageErr
}

func (o *Orchestrator) transition(s *Session, st State) {
	s.setState(st)
	o.notify(s)
}

func (o *Orchestrator) finish(s *Session) {
	s.release()
	o.notify(s)
}

func (o *Orchestrator) notify(s *Session) {
	if o.observer != nil {
		o.observer(s.View())
	}
}
