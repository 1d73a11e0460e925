// Package sanitize holds the client-side view of detected PII: the entity
// model, the redaction overlay renderer used to highlight spans in the
// analyst's original text, and the token grammar shared with the tokeniser.
//
// Usage:
//
//	for run := range sanitize.Render(text, entities) {
//		// draw run.Text, styled by run.Class when run.Kind == sanitize.RunHighlight
//	}
package sanitize

import "iter"

// RunKind tells the UI how to draw a run.
type RunKind string

const (
	RunPlain       RunKind = "plain"
	RunHighlight   RunKind = "highlight"
	RunPlaceholder RunKind = "placeholder" // original text is empty
)

// Class is the highlight category of an entity type.
type Class string

const (
	ClassPerson       Class = "person"
	ClassGovernmentID Class = "government-id"
	ClassFinancial    Class = "financial"
	ClassEmail        Class = "email"
	ClassPhone        Class = "phone"
	ClassAddress      Class = "address"
	ClassDateOfBirth  Class = "date-of-birth"
	ClassAffiliation  Class = "affiliation"
	ClassUnclassified Class = "unclassified"
)

var classByType = map[string]Class{
	"PERSON_NAME":    ClassPerson,
	"NRIC":           ClassGovernmentID,
	"PASSPORT":       ClassGovernmentID,
	"ACCOUNT_NUMBER": ClassFinancial,
	"CREDIT_CARD":    ClassFinancial,
	"BANK_ROUTING":   ClassFinancial,
	"EMAIL":          ClassEmail,
	"PHONE":          ClassPhone,
	"PHONE_NUMBER":   ClassPhone,
	"ADDRESS":        ClassAddress,
	"DOB":            ClassDateOfBirth,
	"JOB_TITLE":      ClassAffiliation,
	"ORGANISATION":   ClassAffiliation,
}

// ClassOf maps an entity type to its highlight class. Unknown types
// degrade to ClassUnclassified.
func ClassOf(entityType string) Class {
	if c, ok := classByType[entityType]; ok {
		return c
	}
	return ClassUnclassified
}

// Run is one contiguous piece of the rendered original text.
type Run struct {
	Text  string  `json:"text"`
	Kind  RunKind `json:"kind"`
	Class Class   `json:"class,omitempty"` // set for highlight runs only
}

// Render walks original left to right and yields runs that cover every
// character exactly once, highlighting entity spans. Run texts are byte
// slices of original, so their concatenation is original even when it
// holds invalid UTF-8 (each invalid byte counts as one code point).
//
// Entities are copied and stably sorted by start. An entity starting
// before the cursor overlaps an already emitted span: the overlapping part
// is absorbed, and only the part extending past the cursor (if any) is
// emitted, highlighted with the later entity's class.
func Render(original string, entities []Entity) iter.Seq[Run] {
	return func(yield func(Run) bool) {
		if original == "" {
			yield(Run{Kind: RunPlaceholder})
			return
		}
		if len(entities) == 0 {
			yield(Run{Text: original, Kind: RunPlain})
			return
		}

		offs := runeOffsets(original)
		n := len(offs) - 1
		text := func(from, to int) string { return original[offs[from]:offs[to]] }
		sorted := make([]Entity, len(entities))
		copy(sorted, entities)
		sortByStart(sorted)

		cursor := 0
		for _, e := range sorted {
			start, end := clamp(e.Start, n), clamp(e.End, n)
			if end <= cursor || start >= end {
				continue
			}
			if start > cursor {
				if !yield(Run{Text: text(cursor, start), Kind: RunPlain}) {
					return
				}
			} else {
				start = cursor
			}
			if !yield(Run{Text: text(start, end), Kind: RunHighlight, Class: ClassOf(e.Type)}) {
				return
			}
			cursor = end
		}
		if cursor < n {
			yield(Run{Text: text(cursor, n), Kind: RunPlain})
		}
	}
}

// RenderAll collects Render into a slice.
func RenderAll(original string, entities []Entity) []Run {
	var runs []Run
	for r := range Render(original, entities) {
		runs = append(runs, r)
	}
	return runs
}

// runeOffsets returns the byte offset of every code point in s followed by
// len(s).
func runeOffsets(s string) []int {
	offs := make([]int, 0, len(s)+1)
	for i := range s {
		offs = append(offs, i)
	}
	return append(offs, len(s))
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
