// Package parser turns sanitized cost-estimate text into the structured parse
// result: the synthetic budget tree, the composition blocks and the validation
// report. One implementation exists per source family; ForSource dispatches.
package parser

import (
	"fmt"
	"strings"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/rules"
)

// Page is one page of raw extracted text handed to a parser.
type Page struct {
	Number int
	Text   string
}

// Context carries per-request values that become dynamic sanitizer markers.
type Context struct {
	WorkName     string
	WorkLocation string
}

// Input is everything one parse invocation consumes. Empty page slices mean
// the corresponding section was not requested.
type Input struct {
	BudgetPages      []Page
	CompositionPages []Page
	Context          Context
}

// Parser converts extracted pages into a parse result. Implementations are
// pure with respect to Input and safe for concurrent use.
type Parser interface {
	Parse(in Input) (*budget.Result, error)
}

// ForSource returns the parser implementation for a source identifier.
func ForSource(id string, r *rules.Rules) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "sinapi":
		return NewSINAPI(r)
	default:
		return nil, fmt.Errorf("unsupported source: %q", id)
	}
}
