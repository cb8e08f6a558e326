// Package engine runs the reasoning pipeline behind a chat exchange: produce
// an answer, optionally corrupt it, extract its first-order form, and hand
// that to the prover for verification.
package engine

import (
	"context"
	"errors"
	"regexp"
)

// ErrUnableToExtract reports that a sentence has no extractable first-order
// form, such as small talk.
var ErrUnableToExtract = errors.New("unable to extract a logical statement")

// Responder produces the three model-backed steps of the pipeline. An
// implementation may call a hosted model or answer from a script.
type Responder interface {
	// Respond answers the user's question as a complete sentence.
	Respond(ctx context.Context, question string) (string, error)
	// Corrupt alters a sentence slightly so that its meaning changes, used
	// to demonstrate that verification catches wrong answers.
	Corrupt(ctx context.Context, sentence string) (string, error)
	// ExtractLogic converts a sentence into a first-order s-expression, or
	// returns ErrUnableToExtract when no logical form exists.
	ExtractLogic(ctx context.Context, sentence string) (string, error)
}

var resultPattern = regexp.MustCompile(`(?s)<result>\s*(.*?)\s*</result>`)

// extractResult pulls the payload out of <result>...</result> tags. When the
// model emits several, the last one wins; when it emits none, the empty
// string is returned.
func extractResult(text string) string {
	matches := resultPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}
