// Package audit keeps the client side of the hash-chained audit trail.
//
// The audit service owns the chain: it computes each event's hash over the
// full event including prevHash and stores it append-only. The client owns
// only its cursor, the last hash it was given, and forwards it as prevHash
// on the next append. A Chain serialises appends so that request n+1 is
// never sent before response n has been observed.
package audit

import (
	"context"
	"time"
)

// EventType names the workflow step an event records.
type EventType string

const (
	EventAnalyse   EventType = "analyse"
	EventTokenise  EventType = "tokenise"
	EventPolicy    EventType = "policy"
	EventSearch    EventType = "search"
	EventSummarise EventType = "summarise"
)

// Request is the body of one append.
type Request struct {
	CaseID    string    `json:"caseId"`
	EventType EventType `json:"eventType"`
	Payload   any       `json:"payload"`
	PrevHash  string    `json:"prevHash"`
}

// Appender submits one event and returns the hash the service assigned.
type Appender interface {
	Append(ctx context.Context, req Request) (hash string, err error)
}

// Receipt is the local record of one append attempt, recorded or not.
type Receipt struct {
	CaseID    string    `json:"caseId"`
	Epoch     int       `json:"epoch"`
	EventType EventType `json:"eventType"`
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash,omitempty"`
	Recorded  bool      `json:"recorded"`
	Cause     string    `json:"cause,omitempty"`
	At        time.Time `json:"at"`
}

// Journal mirrors receipts somewhere durable.
type Journal interface {
	Record(ctx context.Context, r Receipt) error
}
