package audit

// Payloads carry counts and bounded previews only. Raw text and entity
// values never enter the audit trail.

// AnalysePayload summarises an analyse step.
type AnalysePayload struct {
	TextLen int `json:"textLen"`
	Found   int `json:"found"`
}

// TokenisePayload carries a bounded prefix of the tokenised text.
type TokenisePayload struct {
	Preview string `json:"preview"`
}

// SearchPayload records how many snippets came back.
type SearchPayload struct {
	Got int `json:"got"`
}

// SummarisePayload records the answer length and the cited sources.
type SummarisePayload struct {
	Len   int      `json:"len"`
	Cites []string `json:"cites"`
}

// Preview returns at most n code points of s.
func Preview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
