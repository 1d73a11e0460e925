package sanitize

import "regexp"

// Token grammar shared with the tokenisation service.
//
//	token   = prefix "_" ident
//	prefix  = 1*( "A"-"Z" )
//	ident   = 4*( "A"-"Z" / "0"-"9" )
//
// A token is delimited by word boundaries on both sides. The analysis
// subject is the token whose prefix is SubjectPrefix.
const SubjectPrefix = "SUBJ"

var (
	tokenRe   = regexp.MustCompile(`\b[A-Z]+_[A-Z0-9]{4,}\b`)
	subjectRe = regexp.MustCompile(`\b` + SubjectPrefix + `_[A-Z0-9]{4,}\b`)
)

// SubjectToken returns the first subject token in tokenised text.
func SubjectToken(tokenised string) (string, bool) {
	tok := subjectRe.FindString(tokenised)
	return tok, tok != ""
}

// Tokens returns every opaque token in tokenised text, in order.
func Tokens(tokenised string) []string {
	return tokenRe.FindAllString(tokenised, -1)
}
