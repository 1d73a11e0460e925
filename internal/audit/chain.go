package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gonkalabs/kpg-client/internal/logging"
)

// ErrNoHash is the gap cause when the service acknowledged without a hash.
var ErrNoHash = errors.New("audit: acknowledgement carried no hash")

// Outcome is the result of one Log call. A failed append is an Outcome
// with Recorded false, never an error of the calling stage.
type Outcome struct {
	EventType EventType
	Epoch     int
	Recorded  bool
	Hash      string // set when Recorded
	PrevHash  string // cursor sent with the request
	Err       error  // gap cause when not Recorded
}

// Status summarises the chain for display.
type Status struct {
	Epoch    int    `json:"epoch"`
	Cursor   string `json:"cursor"`
	Recorded int    `json:"recorded"`
	Gaps     int    `json:"gaps"`
	LastGap  string `json:"lastGap,omitempty"`
	Degraded bool   `json:"degraded"`
}

// Chain owns one session's audit cursor.
type Chain struct {
	appender Appender
	journal  Journal
	log      *logging.Logger
	now      func() time.Time

	// sendMu is held across each append round trip; mu guards the fields
	// below and is never held during I/O so Status stays responsive.
	sendMu   sync.Mutex
	mu       sync.Mutex
	cursor   string
	epoch    int
	recorded int
	gaps     int
	lastGap  string
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithJournal mirrors every receipt into j.
func WithJournal(j Journal) ChainOption {
	return func(c *Chain) { c.journal = j }
}

// WithLogger sets the chain's logger.
func WithLogger(l *logging.Logger) ChainOption {
	return func(c *Chain) { c.log = l.WithComponent("audit") }
}

// WithClock overrides the receipt clock.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) { c.now = now }
}

// NewChain creates a chain starting at the empty sentinel.
func NewChain(a Appender, opts ...ChainOption) *Chain {
	c := &Chain{appender: a, log: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Log appends one event linked to the current cursor. The send lock is
// held for the whole round trip; Status does not wait on it. Only an
// acknowledgement with a non-empty hash moves the cursor.
func (c *Chain) Log(ctx context.Context, caseID string, eventType EventType, payload any) Outcome {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	out := Outcome{EventType: eventType, Epoch: c.epoch, PrevHash: c.cursor}
	c.mu.Unlock()

	hash, err := c.appender.Append(ctx, Request{
		CaseID:    caseID,
		EventType: eventType,
		Payload:   payload,
		PrevHash:  out.PrevHash,
	})
	if err == nil && hash == "" {
		err = ErrNoHash
	}

	c.mu.Lock()
	if err != nil {
		out.Err = err
		c.gaps++
		c.lastGap = string(eventType) + ": " + err.Error()
	} else {
		out.Recorded = true
		out.Hash = hash
		c.cursor = hash
		c.recorded++
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("audit gap",
			zap.String("case_id", caseID),
			zap.String("event", string(eventType)),
			zap.Int("epoch", out.Epoch),
			zap.Error(err),
		)
	}
	c.journalReceipt(ctx, caseID, out)
	return out
}

func (c *Chain) journalReceipt(ctx context.Context, caseID string, out Outcome) {
	if c.journal == nil {
		return
	}
	r := Receipt{
		CaseID:    caseID,
		Epoch:     out.Epoch,
		EventType: out.EventType,
		PrevHash:  out.PrevHash,
		Hash:      out.Hash,
		Recorded:  out.Recorded,
		At:        c.now().UTC(),
	}
	if out.Err != nil {
		r.Cause = out.Err.Error()
	}
	if err := c.journal.Record(ctx, r); err != nil {
		c.log.Warn("journal receipt failed", zap.String("case_id", caseID), zap.Error(err))
	}
}

// Reset starts a new chain: the cursor returns to the empty sentinel and
// the epoch advances. Counters restart with the epoch.
func (c *Chain) Reset() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = ""
	c.epoch++
	c.recorded = 0
	c.gaps = 0
	c.lastGap = ""
}

// Cursor returns the last recorded hash, or "" before the first one.
func (c *Chain) Cursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Status reports the chain's counters for the current epoch.
func (c *Chain) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Epoch:    c.epoch,
		Cursor:   c.cursor,
		Recorded: c.recorded,
		Gaps:     c.gaps,
		LastGap:  c.lastGap,
		Degraded: c.gaps > 0,
	}
}
