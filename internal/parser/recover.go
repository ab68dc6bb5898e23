package parser

import (
	"strings"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/rules"
	"github.com/pvbaptista/orcaparse/internal/sanitize"
)

// normCode canonicalizes a code or source for comparison: accent-folded,
// uppercased, inner spaces removed.
func normCode(s string) string {
	return strings.ToUpper(strings.ReplaceAll(sanitize.Fold(strings.TrimSpace(s)), " ", ""))
}

// prefixMatch reports whether short is a truncation of full: same prefix,
// at most maxMissing trailing characters lost, and a prefix of at least
// minLen so a one-letter stub never matches everything.
func prefixMatch(full, short string, maxMissing, minLen int) bool {
	f, s := normCode(full), normCode(short)
	if len(s) < minLen || len(s) > len(f) {
		return false
	}
	if len(f)-len(s) > maxMissing {
		return false
	}
	return strings.HasPrefix(f, s)
}

// chooseCodeCandidate picks the candidate closest in length to the truncated
// code. A tie between the two best candidates is a refusal to guess.
func chooseCodeCandidate(truncated string, cands []string) (best string, tie bool) {
	if len(cands) == 0 {
		return "", false
	}
	tl := len(normCode(truncated))
	type scored struct {
		code string
		diff int
	}
	var top, second *scored
	for _, c := range cands {
		s := scored{code: c, diff: len(normCode(c)) - tl}
		if s.diff < 0 {
			s.diff = -s.diff
		}
		switch {
		case top == nil || s.diff < top.diff:
			second = top
			v := s
			top = &v
		case second == nil || s.diff < second.diff:
			v := s
			second = &v
		}
	}
	if second != nil && second.diff == top.diff && normCode(second.code) != normCode(top.code) {
		return "", true
	}
	return top.code, false
}

// recoverer matches annex codes against the budget's reference list,
// bucketed by normalized source.
type recoverer struct {
	bySource map[string][]budget.Ref
	cfg      rules.Recovery
}

func newRecoverer(refs []budget.Ref, cfg rules.Recovery) *recoverer {
	r := &recoverer{bySource: map[string][]budget.Ref{}, cfg: cfg}
	for _, ref := range refs {
		key := normCode(ref.Source)
		r.bySource[key] = append(r.bySource[key], ref)
	}
	return r
}

// Recover resolves a possibly truncated code to the full code from the
// budget. It returns recovered=false, ambiguous=true when several candidates
// remain equally plausible: a wrong guess is worse than no correction.
func (r *recoverer) Recover(code, source string) (full string, recovered, ambiguous bool) {
	refs := r.bySource[normCode(source)]
	var cands []string
	seen := map[string]bool{}
	for _, ref := range refs {
		if !prefixMatch(ref.Code, code, r.cfg.MaxMissing, r.cfg.MinPrefix) {
			continue
		}
		if seen[normCode(ref.Code)] {
			continue
		}
		seen[normCode(ref.Code)] = true
		cands = append(cands, ref.Code)
	}
	if len(cands) == 0 {
		return "", false, false
	}

	best, tie := chooseCodeCandidate(code, cands)
	if tie && r.cfg.PreferSameSource {
		var exact []string
		for _, ref := range refs {
			if ref.Source == source && prefixMatch(ref.Code, code, r.cfg.MaxMissing, r.cfg.MinPrefix) {
				exact = append(exact, ref.Code)
			}
		}
		if b, t := chooseCodeCandidate(code, exact); b != "" && !t {
			return b, true, false
		}
	}
	if tie || best == "" {
		return "", false, true
	}
	return best, true, false
}
