package parser

import (
	"regexp"
	"strings"

	"github.com/pvbaptista/orcaparse/internal/sanitize"
)

// rowKind tags the classification of one budget-section line. Classification
// is mechanical; the parse loop decides what a given kind means in context
// (e.g. a bare group line may turn out to be a continuation).
type rowKind int

const (
	rowUnknown rowKind = iota
	rowLeafStart
	rowGroupWithTotal
	rowGroupBare
	rowNumberOnly
	rowStop
)

// rowClass is the tagged classification result with the captured fields of
// the matched shape.
type rowClass struct {
	kind rowKind

	ordinal string
	code    string
	source  string
	rest    string // leaf start: everything after the source column

	label string // group description
	total string // group printed total

	number string // bare-number line

	// placeholder marks a leaf row whose code column collapsed into the
	// literal word COMPOSICAO (code lost to a line break in the source).
	placeholder bool
}

// leafTail is the trailing numeric column set of a leaf row.
type leafTail struct {
	unit    string
	quant   string
	noBDI   string
	withBDI string
	partial string // may be a placeholder dash; empty when the column was absent
}

// budgetGrammar bundles the compiled row shapes of the budget section.
type budgetGrammar struct {
	leafStart       *regexp.Regexp
	leafPlaceholder *regexp.Regexp
	tailFull        *regexp.Regexp
	tailNoPartial   *regexp.Regexp
	groupWithTotal  *regexp.Regexp
	groupBare       *regexp.Regexp
	numberOnly      *regexp.Regexp
	newRow          *regexp.Regexp
}

func compileBudgetGrammar(num string, sources []string) budgetGrammar {
	quoted := make([]string, len(sources))
	for i, s := range sources {
		quoted[i] = regexp.QuoteMeta(s)
	}
	src := strings.Join(quoted, "|")

	return budgetGrammar{
		leafStart: regexp.MustCompile(
			`(?i)^(\d+(?:\.\d+)*)\s+([0-9A-Z_]+)\s+(` + src + `)\s+(.+)$`),
		leafPlaceholder: regexp.MustCompile(
			`(?i)^(\d+(?:\.\d+)*)\s+COMPOSI(?:ÇÃO|CAO)\s+(` + src + `)\s+(.+)$`),
		tailFull: regexp.MustCompile(
			`\s([A-Za-zÀ-ú0-9/%²³]+)\s+(` + num + `)\s+(` + num + `)\s+(` + num + `)\s+(` + num + `|[-–—]+)\s*$`),
		tailNoPartial: regexp.MustCompile(
			`\s([A-Za-zÀ-ú0-9/%²³]+)\s+(` + num + `)\s+(` + num + `)\s+(` + num + `)\s*$`),
		groupWithTotal: regexp.MustCompile(`^(\d+(?:\.\d+)*)\s+(.+?)\s+(` + num + `)\s*$`),
		groupBare:      regexp.MustCompile(`^(\d+(?:\.\d+)*)\s+(.+?)\s*$`),
		numberOnly:     regexp.MustCompile(`^(` + num + `)$`),
		newRow:         regexp.MustCompile(`^\d+(?:\.\d+)*\s+`),
	}
}

// classify maps one sanitized line to its row shape.
func (p *SINAPI) classify(text string, stopMarkers []string) rowClass {
	if sanitize.ContainsAny(text, stopMarkers) {
		return rowClass{kind: rowStop}
	}
	if m := p.grammar.leafStart.FindStringSubmatch(text); m != nil {
		return rowClass{kind: rowLeafStart, ordinal: m[1], code: m[2], source: m[3], rest: m[4]}
	}
	if m := p.grammar.leafPlaceholder.FindStringSubmatch(text); m != nil {
		return rowClass{kind: rowLeafStart, ordinal: m[1], code: "COMPOSICAO", source: m[2], rest: m[3], placeholder: true}
	}
	if m := p.grammar.groupWithTotal.FindStringSubmatch(text); m != nil {
		return rowClass{kind: rowGroupWithTotal, ordinal: m[1], label: m[2], total: m[3]}
	}
	if m := p.grammar.numberOnly.FindStringSubmatch(text); m != nil {
		return rowClass{kind: rowNumberOnly, number: m[1]}
	}
	if m := p.grammar.groupBare.FindStringSubmatch(text); m != nil {
		return rowClass{kind: rowGroupBare, ordinal: m[1], label: m[2]}
	}
	return rowClass{kind: rowUnknown}
}

// tail extracts the trailing column set of an assembled leaf row. The second
// return distinguishes "full tail" from "tail without the total-cost column",
// which yields the not-filled sentinel for partial cost.
func (p *SINAPI) tail(text string) (leafTail, bool) {
	if m := p.grammar.tailFull.FindStringSubmatch(text); m != nil {
		return leafTail{unit: m[1], quant: m[2], noBDI: m[3], withBDI: m[4], partial: m[5]}, true
	}
	if m := p.grammar.tailNoPartial.FindStringSubmatch(text); m != nil {
		return leafTail{unit: m[1], quant: m[2], noBDI: m[3], withBDI: m[4]}, true
	}
	return leafTail{}, false
}

// stripTail removes the trailing column set from a leaf row, leaving the
// specification text.
func (p *SINAPI) stripTail(text string) string {
	if loc := p.grammar.tailFull.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]])
	}
	if loc := p.grammar.tailNoPartial.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]])
	}
	return strings.TrimSpace(text)
}

// looksLikeNewRow reports whether the line starts with an ordinal, i.e. opens
// a new budget row rather than continuing the previous one.
func (p *SINAPI) looksLikeNewRow(text string) bool {
	return p.grammar.newRow.MatchString(text)
}

// probableGroupHeading filters descriptions that cannot be group headings:
// too short, containing column-header words, or carrying multiple numbers
// (a symptom of a misclassified leaf row).
func (p *SINAPI) probableGroupHeading(desc string) bool {
	up := strings.ToUpper(strings.TrimSpace(desc))
	if len(up) < 3 {
		return false
	}
	for _, w := range p.rules.Synthetic.GroupBlacklist {
		if strings.Contains(up, strings.ToUpper(w)) {
			return false
		}
	}
	return len(p.numRx.FindAllString(desc, 2)) < 2
}
