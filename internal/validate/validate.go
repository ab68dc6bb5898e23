// Package validate cross-checks the parsed budget tree against the
// composition annex and records every finding in the run report. It never
// aborts: strict mode only decides whether findings land in erros or avisos.
package validate

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/money"
	"github.com/pvbaptista/orcaparse/internal/rules"
	"github.com/pvbaptista/orcaparse/internal/sanitize"
)

// Within reports whether actual is acceptably close to expected: the
// absolute difference passes either the absolute or the relative bound.
func Within(expected, actual, abs, rel decimal.Decimal) bool {
	diff := expected.Sub(actual).Abs()
	if diff.Cmp(abs) <= 0 {
		return true
	}
	return diff.Cmp(expected.Abs().Mul(rel)) <= 0
}

// reconciliation leniency for codes damaged on both sides: a shared prefix
// of at least this length, with at most this many characters lost, paired
// with a matching unit cost.
const (
	reconcileMinPrefix  = 5
	reconcileMaxMissing = 4
)

// Run performs all cross-checks: per-item arithmetic, group roll-ups,
// budget/annex code reconciliation, and unit-cost agreement between the two
// documents. annexParsed=false (no composition pages supplied) skips the
// cross-document checks: an absent annex is not the same as an empty one.
func Run(tree *budget.Tree, refs []budget.Ref, comps *budget.Compositions, annexParsed bool, cfg rules.Validation, format money.Format, rep *budget.Report) {
	tol := cfg.Tolerances
	itemAbs := decimal.NewFromFloat(tol.ItemAbs)
	itemRel := decimal.NewFromFloat(tol.ItemRel)
	groupAbs := decimal.NewFromFloat(tol.GroupAbs)
	groupRel := decimal.NewFromFloat(tol.GroupRel)

	checkItems(tree, itemAbs, itemRel, tol.ItemAbs, rep)
	checkGroups(tree, cfg, format, groupAbs, groupRel, tol.GroupAbs, rep)
	if annexParsed {
		matched := reconcile(refs, comps, cfg, itemAbs, itemRel, rep)
		checkUnitCosts(matched, tol.ItemAbs, itemAbs, itemRel, rep)
	}

	route(cfg, rep)
}

// checkItems verifies quantidade × custo_unitário_com_bdi ≈ custo_parcial
// for every leaf. A missing partial-cost column is the "not filled"
// sentinel, never a zero, so those rows are exempt.
func checkItems(tree *budget.Tree, abs, rel decimal.Decimal, tolAbs float64, rep *budget.Report) {
	if tree == nil {
		return
	}
	for _, n := range tree.Flat {
		if !n.PartialCost.Valid || !n.Quantity.Valid || !n.UnitCostBDI.Valid {
			continue
		}
		expected := n.Quantity.Decimal.Mul(n.UnitCostBDI.Decimal)
		actual := n.PartialCost.Decimal
		if Within(expected, actual, abs, rel) {
			continue
		}
		rep.Discrepancies = append(rep.Discrepancies, budget.Discrepancy{
			Kind:      "custo_parcial",
			Ordinal:   n.Ordinal,
			Code:      n.Code,
			Expected:  expected.StringFixed(2),
			Actual:    actual.StringFixed(2),
			Delta:     expected.Sub(actual).Abs().StringFixed(2),
			Tolerance: decimal.NewFromFloat(tolAbs).StringFixed(2),
		})
	}
}

// checkGroups verifies each group total against the sum of its children.
// A child with an unparseable total makes the check inconclusive, not
// failed.
func checkGroups(tree *budget.Tree, cfg rules.Validation, format money.Format, abs, rel decimal.Decimal, tolAbs float64, rep *budget.Report) {
	if tree == nil {
		return
	}
	var sum func(n *budget.Node) (decimal.Decimal, bool)
	sum = func(n *budget.Node) (decimal.Decimal, bool) {
		total := decimal.Zero
		complete := true
		for _, c := range n.Children {
			switch c.Kind {
			case budget.KindItem:
				if !c.PartialCost.Valid {
					complete = false
					continue
				}
				total = total.Add(c.PartialCost.Decimal)
			default:
				if t := format.ParseNull(c.Total); t.Valid {
					total = total.Add(t.Decimal)
					continue
				}
				s, ok := sum(c)
				if !ok {
					complete = false
					continue
				}
				total = total.Add(s)
			}
		}
		return total, complete
	}

	tree.Walk(func(n *budget.Node) {
		if n.Kind == budget.KindItem || len(n.Children) == 0 {
			return
		}
		printed := format.ParseNull(n.Total)
		if !printed.Valid {
			// Covers both the missing-total placeholder and unreadable totals.
			return
		}
		got, complete := sum(n)
		if !complete {
			if cfg.ReportAllGroupChecks {
				rep.Warnf("[validacao] grupo %s: soma dos filhos incompleta; total não conferido", n.Ordinal)
			}
			return
		}
		if Within(printed.Decimal, got, abs, rel) {
			if cfg.ReportAllGroupChecks {
				rep.Warnf("[validacao] grupo %s: total confere (%s)", n.Ordinal, got.StringFixed(2))
			}
			return
		}
		rep.Discrepancies = append(rep.Discrepancies, budget.Discrepancy{
			Kind:      "total_grupo",
			Ordinal:   n.Ordinal,
			Expected:  got.StringFixed(2),
			Actual:    printed.Decimal.StringFixed(2),
			Delta:     got.Sub(printed.Decimal).Abs().StringFixed(2),
			Tolerance: decimal.NewFromFloat(tolAbs).StringFixed(2),
		})
	})
}

type matchedPair struct {
	ref       budget.Ref
	principal budget.CompositionRow
}

// reconcile computes itens_faltando and itens_extras over normalized
// code|source identities, then pairs off remaining mismatches whose codes
// are mutual prefixes and whose unit costs agree. The two lists never
// intersect.
func reconcile(refs []budget.Ref, comps *budget.Compositions, cfg rules.Validation, itemAbs, itemRel decimal.Decimal, rep *budget.Report) []matchedPair {
	principalByID := map[string]budget.CompositionRow{}
	for _, b := range comps.Principals {
		principalByID[normID(b.Principal.Code, b.Principal.Source)] = b.Principal
	}

	truncatedFor := map[string]string{}
	for truncated, full := range comps.Aliases {
		truncatedFor[normToken(full)] = normToken(truncated)
	}

	var matched []matchedPair
	var missing []budget.Ref
	seenRef := map[string]bool{}
	for _, r := range refs {
		id := normID(r.Code, r.Source)
		if seenRef[id] {
			continue
		}
		seenRef[id] = true
		if p, ok := principalByID[id]; ok {
			matched = append(matched, matchedPair{ref: r, principal: p})
			delete(principalByID, id)
			continue
		}
		// An annex block may still carry the truncated code when the alias
		// was recorded but not rewritten.
		if truncated, ok := truncatedFor[normToken(r.Code)]; ok {
			if p, ok2 := principalByID[truncated+"|"+normToken(r.Source)]; ok2 {
				matched = append(matched, matchedPair{ref: r, principal: p})
				delete(principalByID, truncated+"|"+normToken(r.Source))
				continue
			}
		}
		missing = append(missing, r)
	}

	var extras []budget.CompositionRow
	for _, p := range principalByID {
		extras = append(extras, p)
	}

	missing, extras = pairByPrefixAndCost(missing, extras, itemAbs, itemRel, &matched)

	for _, r := range missing {
		rep.MissingCodes = append(rep.MissingCodes, budget.MakeID(r.Code, r.Source))
	}
	for _, p := range extras {
		rep.ExtraCodes = append(rep.ExtraCodes, p.ID())
	}
	return matched
}

// pairByPrefixAndCost rescues pairs where truncation hit the budget side or
// both sides: the shorter code must be a prefix of the longer and the unit
// costs must agree, otherwise no guess is made.
func pairByPrefixAndCost(missing []budget.Ref, extras []budget.CompositionRow, itemAbs, itemRel decimal.Decimal, matched *[]matchedPair) ([]budget.Ref, []budget.CompositionRow) {
	var remainingMissing []budget.Ref
	for _, r := range missing {
		paired := -1
		for i, p := range extras {
			if normToken(r.Source) != normToken(p.Source) {
				continue
			}
			if !mutualPrefix(r.Code, p.Code) {
				continue
			}
			if !r.UnitCost.Valid || !p.UnitPrice.Valid {
				continue
			}
			if !Within(r.UnitCost.Decimal, p.UnitPrice.Decimal, itemAbs, itemRel) {
				continue
			}
			if paired != -1 {
				paired = -1 // two plausible partners: refuse to guess
				break
			}
			paired = i
		}
		if paired == -1 {
			remainingMissing = append(remainingMissing, r)
			continue
		}
		*matched = append(*matched, matchedPair{ref: r, principal: extras[paired]})
		extras = append(extras[:paired], extras[paired+1:]...)
	}
	return remainingMissing, extras
}

func mutualPrefix(a, b string) bool {
	na, nb := normToken(a), normToken(b)
	short, long := na, nb
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < reconcileMinPrefix || len(long)-len(short) > reconcileMaxMissing {
		return false
	}
	return strings.HasPrefix(long, short)
}

// checkUnitCosts compares the budget's custo_unitario_sem_bdi with the
// annex principal's valor_unit for every matched pair.
func checkUnitCosts(matched []matchedPair, tolAbs float64, abs, rel decimal.Decimal, rep *budget.Report) {
	for _, m := range matched {
		if !m.ref.UnitCost.Valid || !m.principal.UnitPrice.Valid {
			continue
		}
		if Within(m.ref.UnitCost.Decimal, m.principal.UnitPrice.Decimal, abs, rel) {
			continue
		}
		rep.Discrepancies = append(rep.Discrepancies, budget.Discrepancy{
			Kind:      "custo_unitario",
			Ordinal:   m.ref.Ordinal,
			Code:      m.ref.Code,
			Expected:  m.ref.UnitCost.Decimal.StringFixed(2),
			Actual:    m.principal.UnitPrice.Decimal.StringFixed(2),
			Delta:     m.ref.UnitCost.Decimal.Sub(m.principal.UnitPrice.Decimal).Abs().StringFixed(2),
			Tolerance: decimal.NewFromFloat(tolAbs).StringFixed(2),
		})
	}
}

// route turns the accumulated findings into summary messages; strict mode
// sends them to erros, otherwise to avisos.
func route(cfg rules.Validation, rep *budget.Report) {
	say := rep.Warnf
	if cfg.Strict {
		say = rep.Errorf
	}
	if n := len(rep.MissingCodes); n > 0 {
		say("[validacao] %d composição(ões) do orçamento sem bloco no anexo: %s", n, strings.Join(clipList(rep.MissingCodes, 10), ", "))
	}
	if n := len(rep.Discrepancies); n > 0 {
		say("[validacao] %d divergência(s) numérica(s) encontradas", n)
	}
	if n := len(rep.ExtraCodes); n > 0 {
		extraSay := rep.Warnf
		if cfg.Strict && cfg.ExtraCodesError {
			extraSay = rep.Errorf
		}
		extraSay("[validacao] %d composição(ões) no anexo sem item correspondente no orçamento: %s", n, strings.Join(clipList(rep.ExtraCodes, 10), ", "))
	}
}

func clipList(ss []string, n int) []string {
	if len(ss) <= n {
		return ss
	}
	out := make([]string, n+1)
	copy(out, ss[:n])
	out[n] = "..."
	return out
}

func normID(code, source string) string {
	return normToken(code) + "|" + normToken(source)
}

func normToken(s string) string {
	s = sanitize.Fold(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	return strings.ToUpper(s)
}
