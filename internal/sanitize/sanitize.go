// Package sanitize normalizes the raw per-page text of a cost-estimate PDF:
// it breaks section titles glued onto data rows, repairs tokens merged without
// a separating space, strips configured header/footer boilerplate, and emits
// an ordered stream of lines for the section parsers. Sanitizing is a pure
// function of the input text and the source rules.
package sanitize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/pvbaptista/orcaparse/internal/rules"
)

// Page is one page of already-linearized text.
type Page struct {
	Number int
	Text   string
}

// Line is one surviving sanitized line. Index increases monotonically across
// the whole input and defines document order downstream.
type Line struct {
	Page  int
	Text  string
	Index int
}

// Sanitizer applies one source's sanitizer rules. Compiled once per source
// and safe for concurrent use; all methods are read-only.
type Sanitizer struct {
	cfg rules.Sanitizer

	glue      []glueRule
	dropRx    []*regexp.Regexp
	dropSet   map[string]bool
	contRowRx *regexp.Regexp
}

type glueRule struct {
	rx      *regexp.Regexp
	replace string
}

// New compiles the sanitizer patterns of a source.
func New(cfg rules.Sanitizer) (*Sanitizer, error) {
	s := &Sanitizer{
		cfg:     cfg,
		dropSet: map[string]bool{},
		// New-row shape: an ordinal followed by more content. Such a line is
		// never merged into the previous row's specification.
		contRowRx: regexp.MustCompile(`^\d+(?:\.\d+)*\s+\S+`),
	}
	for _, g := range cfg.GlueRules {
		rx, err := regexp.Compile(g.Pattern)
		if err != nil {
			return nil, err
		}
		s.glue = append(s.glue, glueRule{rx: rx, replace: g.Replace})
	}
	for _, p := range cfg.DropLinesMatching {
		rx, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		s.dropRx = append(s.dropRx, rx)
	}
	for _, m := range cfg.DropLinesExact {
		s.dropSet[NormalizeSpace(m)] = true
	}
	return s, nil
}

// Sanitize runs the full pipeline over the given pages. Dynamic markers
// (work name, work location from the request) join the configured marker sets.
func (s *Sanitizer) Sanitize(pages []Page, dynamic []string) []Line {
	breakMarkers := MergeMarkers(s.cfg.BreakBefore, dynamic)
	stripMarkers := MergeMarkers(s.cfg.StripInlineFrom, dynamic)

	var out []Line
	idx := 0
	for _, pg := range pages {
		text := BreakGlued(pg.Text, breakMarkers)
		for _, raw := range strings.Split(text, "\n") {
			ln := NormalizeSpace(raw)
			if ln == "" {
				continue
			}
			ln = s.RepairGlued(ln)
			ln = CutInline(ln, stripMarkers)
			if ln == "" || s.drop(ln) {
				continue
			}
			out = append(out, Line{Page: pg.Number, Text: ln, Index: idx})
			idx++
		}
	}
	return out
}

// RepairGlued applies the ordered glue rules until no rule changes the line or
// the configured pass limit is reached, preventing oscillation.
func (s *Sanitizer) RepairGlued(line string) string {
	passes := s.cfg.MaxGluePasses
	if passes <= 0 {
		passes = 1
	}
	for range passes {
		before := line
		for _, g := range s.glue {
			line = g.rx.ReplaceAllString(line, g.replace)
		}
		if line == before {
			break
		}
	}
	return NormalizeSpace(line)
}

// SafeContinuation reports whether a line may be merged into the previous
// leaf item's specification: not shaped like a new row and free of toxic markers.
func (s *Sanitizer) SafeContinuation(line string, dynamic []string) bool {
	ln := NormalizeSpace(line)
	if ln == "" {
		return false
	}
	if s.contRowRx.MatchString(ln) {
		return false
	}
	return !ContainsAny(ln, MergeMarkers(s.cfg.ToxicForContinuation, dynamic))
}

// CleanInline normalizes a fragment and cuts it at the first inline marker.
func (s *Sanitizer) CleanInline(text string, dynamic []string) string {
	return CutInline(NormalizeSpace(text), MergeMarkers(s.cfg.StripInlineFrom, dynamic))
}

// Toxic reports whether the text contains any configured or dynamic marker
// that disqualifies it as clean specification text.
func (s *Sanitizer) Toxic(text string, dynamic []string) bool {
	return ContainsAny(text, MergeMarkers(append(append([]string{}, s.cfg.StripInlineFrom...), s.cfg.ToxicForContinuation...), dynamic))
}

func (s *Sanitizer) drop(line string) bool {
	if s.dropSet[line] {
		return true
	}
	for _, m := range s.cfg.DropLinesContaining {
		if m != "" && strings.Contains(line, m) {
			return true
		}
	}
	for _, rx := range s.dropRx {
		if rx.MatchString(line) {
			return true
		}
	}
	return false
}

// NormalizeSpace collapses runs of whitespace (including non-breaking spaces)
// into single spaces and trims the ends.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, " ", " ")), " ")
}

var foldT = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold strips combining accents: "Composição" -> "Composicao".
func Fold(s string) string {
	out, _, err := transform.String(foldT, s)
	if err != nil {
		return s
	}
	return out
}

// MergeMarkers joins static and dynamic markers, deduplicated, longest first
// so that broader markers win when one contains another.
func MergeMarkers(static, dynamic []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range append(append([]string{}, static...), dynamic...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// DynamicMarkers derives sanitizer markers from request context values (work
// name and location), in literal, space-stripped and accent-folded variants.
func DynamicMarkers(values ...string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v, strings.ReplaceAll(v, " ", ""), Fold(v), strings.ReplaceAll(Fold(v), " ", ""))
	}
	return MergeMarkers(out, nil)
}

// BreakGlued inserts a line break before every marker occurrence, splitting
// section titles that extraction glued onto the end of a data row.
func BreakGlued(text string, markers []string) string {
	if text == "" || len(markers) == 0 {
		return text
	}
	quoted := make([]string, len(markers))
	for i, m := range markers {
		quoted[i] = regexp.QuoteMeta(m)
	}
	rx := regexp.MustCompile(strings.Join(quoted, "|"))
	return rx.ReplaceAllString(text, "\n$0")
}

// CutInline truncates the line at the earliest marker occurrence.
func CutInline(line string, markers []string) string {
	cut := -1
	for _, m := range markers {
		if i := strings.Index(line, m); i != -1 && (cut == -1 || i < cut) {
			cut = i
		}
	}
	if cut != -1 {
		line = strings.TrimSpace(line[:cut])
	}
	return NormalizeSpace(line)
}

// ContainsAny reports whether the text contains any of the markers.
func ContainsAny(text string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}
