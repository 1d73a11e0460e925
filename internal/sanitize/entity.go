package sanitize

import (
	"cmp"
	"fmt"
	"slices"
)

// Entity describes a PII span detected within an analyst's text.
// Offsets count Unicode code points, not bytes.
type Entity struct {
	Type  string `json:"type"`  // e.g. "PERSON_NAME", "NRIC", "ACCOUNT_NUMBER"
	Start int    `json:"start"` // index of the first code point
	End   int    `json:"end"`   // index one past the last code point
	Value string `json:"value"` // original text[Start:End]
}

// EntityTypes returns the type of each entity in input order, one per entity.
func EntityTypes(entities []Entity) []string {
	types := make([]string, 0, len(entities))
	for _, e := range entities {
		types = append(types, e.Type)
	}
	return types
}

// Validate reports whether e is a well-formed span of text.
func Validate(text string, e Entity) error {
	runes := []rune(text)
	if e.Start < 0 || e.End > len(runes) || e.Start >= e.End {
		return fmt.Errorf("entity %s: invalid span [%d,%d) for text of length %d", e.Type, e.Start, e.End, len(runes))
	}
	if e.Value != "" && string(runes[e.Start:e.End]) != e.Value {
		return fmt.Errorf("entity %s: value does not match text at [%d,%d)", e.Type, e.Start, e.End)
	}
	return nil
}

// sortByStart orders entities by Start ascending. The sort is stable so
// entities sharing a start keep their input order.
func sortByStart(entities []Entity) {
	slices.SortStableFunc(entities, func(a, b Entity) int { return cmp.Compare(a.Start, b.Start) })
}
