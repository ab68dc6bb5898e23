package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/rules"
	"github.com/pvbaptista/orcaparse/internal/sanitize"
	"github.com/pvbaptista/orcaparse/internal/validate"
)

// SINAPI parses the SINAPI document family: a synthetic budget section plus a
// composition annex. The zero value is not usable; construct with NewSINAPI.
type SINAPI struct {
	rules *rules.Rules
	san   *sanitize.Sanitizer

	grammar budgetGrammar
	numRx   *regexp.Regexp

	comp compositionGrammar
}

// NewSINAPI compiles the parser for one source configuration.
func NewSINAPI(r *rules.Rules) (*SINAPI, error) {
	san, err := sanitize.New(r.Sanitizer)
	if err != nil {
		return nil, fmt.Errorf("compile sanitizer: %w", err)
	}
	num := r.Number.Pattern()
	p := &SINAPI{
		rules:   r,
		san:     san,
		grammar: compileBudgetGrammar(num, r.Synthetic.Sources),
		numRx:   regexp.MustCompile(num),
		comp:    compileCompositionGrammar(num, r.Compositions),
	}
	return p, nil
}

// Parse runs the full pipeline: sanitize both sections, build the budget
// tree, parse the composition annex against the budget reference set, then
// cross-validate. Data-quality problems never abort; they land in the report.
func (p *SINAPI) Parse(in Input) (*budget.Result, error) {
	rep := budget.NewReport()
	dyn := sanitize.DynamicMarkers(in.Context.WorkName, in.Context.WorkLocation)

	tree := &budget.Tree{Roots: []*budget.Node{}, FlatOrdinals: []string{}}
	if len(in.BudgetPages) > 0 {
		lines := p.san.Sanitize(toSanitizePages(in.BudgetPages), dyn)
		tree = p.parseBudget(lines, dyn, rep)
	} else {
		rep.Warnf("orçamento: intervalo de páginas vazio -> orçamento não processado")
	}

	refs := p.collectRefs(tree, rep)

	comps := budget.NewCompositions()
	if len(in.CompositionPages) > 0 {
		lines := p.san.Sanitize(toSanitizePages(in.CompositionPages), dyn)
		comps = p.parseCompositions(lines, refs, rep)
		rep.Warnf("composições: processadas; principais=%d; auxiliares_globais=%d; aliases=%d",
			len(comps.Principals), len(comps.GlobalAuxiliaries), len(comps.Aliases))
	} else {
		rep.Warnf("composições: não processadas (intervalo de páginas vazio)")
	}

	validate.Run(tree, refs, comps, len(in.CompositionPages) > 0, p.rules.Validation, p.rules.Number, rep)

	return &budget.Result{
		Source:       p.rules.SourceID,
		Budget:       tree,
		Compositions: comps,
		Validation:   rep,
	}, nil
}

func toSanitizePages(pages []Page) []sanitize.Page {
	out := make([]sanitize.Page, len(pages))
	for i, pg := range pages {
		out[i] = sanitize.Page{Number: pg.Number, Text: pg.Text}
	}
	return out
}

// parseBudget runs the line state machine over the sanitized budget section.
func (p *SINAPI) parseBudget(all []sanitize.Line, dyn []string, rep *budget.Report) *budget.Tree {
	syn := p.rules.Synthetic

	// Skip everything before the first probable group heading and stop at the
	// document totals; also drop section-level header noise.
	var lines []string
	started := false
	for _, l := range all {
		ln := l.Text
		if sanitize.ContainsAny(ln, syn.IgnoreMarkers) || isHeaderLine(ln, syn) {
			continue
		}
		if !started {
			if c := p.classify(ln, syn.StopMarkers); c.kind == rowGroupWithTotal && p.probableGroupHeading(c.label) {
				started = true
				lines = append(lines, ln)
			}
			continue
		}
		if sanitize.ContainsAny(ln, syn.StopMarkers) {
			break
		}
		lines = append(lines, ln)
	}

	tb := newTreeBuilder(p, rep)
	if len(lines) == 0 {
		rep.Errorf("nenhuma linha do orçamento sintético foi detectada no intervalo informado")
		return tb.tree()
	}

	var buf []string

	finalize := func(buffer []string, lookahead []string) (*budget.Node, int) {
		return p.finalizeLeaf(buffer, lookahead, dyn)
	}

	dropRow := func(buffer []string) {
		rep.Warnf("linha de item descartada (colunas numéricas incompletas): %s", clip(buffer[0]))
	}

	pushGroup := func(c rowClass, total string) {
		kind := budget.KindGroup
		if strings.Contains(c.ordinal, ".") {
			kind = budget.KindSubgroup
		}
		tb.push(&budget.Node{Kind: kind, Ordinal: c.ordinal, Label: c.label, Total: strings.TrimSpace(total)})
	}

	i := 0
	for i < len(lines) {
		ln := lines[i]

		if len(buf) > 0 {
			if p.looksLikeNewRow(ln) {
				node, used := finalize(buf, window(lines, i, 3))
				if node != nil {
					tb.push(node)
					i += used
				} else {
					dropRow(buf)
				}
				buf = nil
				continue
			}
			buf = append(buf, ln)
			if _, ok := p.tail(strings.Join(buf, " ")); ok {
				node, used := finalize(buf, window(lines, i+1, 2))
				if node != nil {
					tb.push(node)
					i += used
				} else {
					dropRow(buf)
				}
				buf = nil
			}
			i++
			continue
		}

		c := p.classify(ln, nil)
		switch c.kind {
		case rowLeafStart:
			buf = []string{ln}
			if _, ok := p.tail(ln); ok {
				node, used := finalize(buf, window(lines, i+1, 2))
				if node != nil {
					tb.push(node)
					i += used
				} else {
					dropRow(buf)
				}
				buf = nil
			}
			i++

		case rowGroupWithTotal:
			if !p.probableGroupHeading(c.label) {
				if tb.lastLeaf != nil && p.san.SafeContinuation(ln, dyn) {
					tb.appendSpec(p.san.CleanInline(ln, dyn))
				} else {
					rep.Warnf("grupo suspeito incluído (revisar): %s", clip(ln))
					pushGroup(c, c.total)
				}
				i++
				continue
			}
			pushGroup(c, c.total)
			i++

		case rowGroupBare:
			if !p.probableGroupHeading(c.label) {
				if tb.lastLeaf != nil && p.san.SafeContinuation(ln, dyn) {
					tb.appendSpec(p.san.CleanInline(ln, dyn))
					i++
					continue
				}
				rep.Warnf("linha ignorada (não casou com item/grupo): %s", clip(ln))
				i++
				continue
			}
			// A bare group may print its total alone on the next line.
			total := ""
			if i+1 < len(lines) {
				if n := p.classify(lines[i+1], nil); n.kind == rowNumberOnly {
					total = n.number
					i++
				}
			}
			if total == "" {
				if p.rules.Validation.AllowMissingGroupTotal {
					total = p.rules.Validation.MissingGroupTotalValue
					rep.Warnf("grupo %s sem CUSTO TOTAL no documento -> vazio", c.ordinal)
				} else {
					rep.Errorf("grupo %s sem CUSTO TOTAL e allow_missing_group_total=false", c.ordinal)
					total = p.rules.Validation.MissingGroupTotalValue
				}
			}
			pushGroup(c, total)
			i++

		default:
			if tb.lastLeaf != nil && p.san.SafeContinuation(ln, dyn) {
				tb.appendSpec(p.san.CleanInline(ln, dyn))
			} else {
				rep.Warnf("linha ignorada (não casou com item/grupo): %s", clip(ln))
			}
			i++
		}
	}

	if len(buf) > 0 {
		if node, _ := finalize(buf, nil); node != nil {
			tb.push(node)
		} else {
			dropRow(buf)
		}
	}

	return tb.tree()
}

// finalizeLeaf assembles a buffered leaf row, absorbing up to two lookahead
// lines when the numeric columns only become coherent with more text (wrapped
// rows whose amounts spilled to the next physical line).
func (p *SINAPI) finalizeLeaf(buffer []string, lookahead []string, dyn []string) (*budget.Node, int) {
	maxExtra := min(2, len(lookahead))
	cur := append([]string{}, buffer...)

	for extra := 0; extra <= maxExtra; extra++ {
		node := p.buildLeaf(strings.Join(cur, " "), buffer[0], dyn)
		if node != nil && p.leafCoherent(node, dyn) {
			return node, extra
		}
		if extra < maxExtra && !p.looksLikeNewRow(lookahead[extra]) {
			cur = append(cur, lookahead[extra])
			continue
		}
		// Out of lookahead: keep what we parsed rather than dropping the row.
		return node, extra
	}
	return nil, 0
}

// buildLeaf parses one assembled leaf row into a node, or nil when the text
// does not form a leaf row at all.
func (p *SINAPI) buildLeaf(text, firstLine string, dyn []string) *budget.Node {
	c := p.classify(text, nil)
	if c.kind != rowLeafStart {
		// The code column may be intact only on the first physical line.
		c = p.classify(firstLine, nil)
		if c.kind != rowLeafStart {
			return nil
		}
	}
	t, ok := p.tail(text)
	if !ok {
		return nil
	}

	spec := p.san.CleanInline(p.stripTail(c.rest), dyn)
	n := &budget.Node{
		Kind:          budget.KindItem,
		Ordinal:       c.ordinal,
		Code:          c.code,
		Source:        c.source,
		Specification: spec,
		Unit:          t.unit,
		Quantity:      p.rules.Number.ParseNull(t.quant),
		UnitCost:      p.rules.Number.ParseNull(t.noBDI),
		UnitCostBDI:   p.rules.Number.ParseNull(t.withBDI),
		PartialCost:   p.rules.Number.ParseNull(t.partial),
	}
	return n
}

// leafCoherent is the merge heuristic: a parsed row is accepted as complete
// when its specification is uncontaminated and its numbers agree within the
// item tolerances. Findings here are not recorded; the validator recomputes
// them authoritatively over the final flat list.
func (p *SINAPI) leafCoherent(n *budget.Node, dyn []string) bool {
	if p.rules.Validation.FailIfContaminatedText && p.san.Toxic(n.Specification, dyn) {
		return false
	}
	if !n.Quantity.Valid || !n.UnitCostBDI.Valid || !n.PartialCost.Valid {
		return true // nothing to check against
	}
	tol := p.rules.Validation.Tolerances
	return validate.Within(
		n.Quantity.Decimal.Mul(n.UnitCostBDI.Decimal),
		n.PartialCost.Decimal,
		decimal.NewFromFloat(tol.ItemAbs),
		decimal.NewFromFloat(tol.ItemRel),
	)
}

// treeBuilder assembles the budget tree from pushed nodes, keeping the
// depth-first flat leaf list in document order.
type treeBuilder struct {
	p   *SINAPI
	rep *budget.Report

	roots    []*budget.Node
	stack    []stackEntry
	flat     []*budget.Node
	ordinals []string
	lastLeaf *budget.Node

	synthetic *budget.Node
}

type stackEntry struct {
	level int
	node  *budget.Node
}

func newTreeBuilder(p *SINAPI, rep *budget.Report) *treeBuilder {
	return &treeBuilder{p: p, rep: rep}
}

func (tb *treeBuilder) push(n *budget.Node) {
	level := n.Depth()
	for len(tb.stack) > 0 && tb.stack[len(tb.stack)-1].level >= level {
		tb.stack = tb.stack[:len(tb.stack)-1]
	}

	if len(tb.stack) == 0 && n.Kind == budget.KindItem {
		tb.attachOrphan(n)
	} else if len(tb.stack) == 0 {
		n.Parent = ""
		tb.roots = append(tb.roots, n)
	} else {
		parent := tb.stack[len(tb.stack)-1].node
		n.Parent = parent.Ordinal
		parent.Children = append(parent.Children, n)
	}

	tb.stack = append(tb.stack, stackEntry{level: level, node: n})
	if n.Kind == budget.KindItem {
		tb.lastLeaf = n
		tb.flat = append(tb.flat, n)
		tb.ordinals = append(tb.ordinals, n.Ordinal)
		tb.warnLeaf(n)
	}
}

// warnLeaf records the malformed-column findings of a retained leaf row.
func (tb *treeBuilder) warnLeaf(n *budget.Node) {
	if strings.EqualFold(n.Code, "COMPOSICAO") {
		tb.rep.Warnf("item %s com irregularidade: linha indica COMPOSIÇÃO com código quebrado/ausente; mantido como codigo=COMPOSICAO", n.Ordinal)
	}
	var bad []string
	if !n.Quantity.Valid {
		bad = append(bad, "quant")
	}
	if !n.UnitCost.Valid {
		bad = append(bad, "custo_unitario_sem_bdi")
	}
	if !n.UnitCostBDI.Valid {
		bad = append(bad, "custo_unitario_com_bdi")
	}
	if len(bad) > 0 {
		tb.rep.Warnf("item %s com coluna numérica não parseável (%s); mantido com valor vazio", n.Ordinal, strings.Join(bad, ", "))
	}
}

// attachOrphan applies the configured policy for a leaf with no enclosing
// group: synthesize a default group (warned) or record a structural error.
// The item is kept either way; dropping leaf items is never acceptable.
func (tb *treeBuilder) attachOrphan(n *budget.Node) {
	switch tb.p.rules.Synthetic.OrphanPolicy {
	case rules.OrphanError:
		tb.rep.Errorf("item %s sem grupo/submeta aberto (orphan_policy=error)", n.Ordinal)
		n.Parent = ""
		tb.roots = append(tb.roots, n)
	default:
		if tb.synthetic == nil {
			tb.synthetic = &budget.Node{Kind: budget.KindGroup, Ordinal: "0", Label: tb.p.rules.Synthetic.OrphanLabel}
			tb.roots = append(tb.roots, tb.synthetic)
			tb.rep.Warnf("item %s sem grupo aberto -> grupo sintético %q criado", n.Ordinal, tb.p.rules.Synthetic.OrphanLabel)
		}
		n.Parent = tb.synthetic.Ordinal
		tb.synthetic.Children = append(tb.synthetic.Children, n)
	}
}

func (tb *treeBuilder) appendSpec(fragment string) {
	if tb.lastLeaf == nil || fragment == "" {
		return
	}
	tb.lastLeaf.Specification = strings.TrimSpace(tb.lastLeaf.Specification + " " + fragment)
}

func (tb *treeBuilder) tree() *budget.Tree {
	t := &budget.Tree{Roots: tb.roots, Flat: tb.flat, FlatOrdinals: tb.ordinals}
	if t.Roots == nil {
		t.Roots = []*budget.Node{}
	}
	if t.FlatOrdinals == nil {
		t.FlatOrdinals = []string{}
	}
	return t
}

// collectRefs derives the composition reference set from the budget leaves.
// Placeholder codes and input-looking codes are warned about and excluded:
// they can never key a principal composition.
func (p *SINAPI) collectRefs(t *budget.Tree, rep *budget.Report) []budget.Ref {
	var refs []budget.Ref
	var placeholders []string

	for _, n := range t.Flat {
		if n.Code == "" || n.Source == "" {
			continue
		}
		if strings.EqualFold(n.Code, "COMPOSICAO") {
			placeholders = append(placeholders, n.Ordinal)
			continue
		}
		if isInputCode(n.Code, n.Source) {
			rep.Warnf("insumo citado no orçamento como item de composição: %s|%s (item %s); revisar planilha/PDF",
				n.Code, n.Source, n.Ordinal)
			continue
		}
		refs = append(refs, budget.Ref{Ordinal: n.Ordinal, Code: n.Code, Source: n.Source, UnitCost: n.UnitCost})
	}

	if len(placeholders) > 0 {
		sample := placeholders
		if len(sample) > 10 {
			sample = sample[:10]
		}
		rep.Warnf("[orcamento] %d item(ns) com código ausente/quebrado (placeholder COMPOSICAO). Exemplos: item %s",
			len(placeholders), strings.Join(sample, ", item "))
	}
	return refs
}

// isInputCode spots raw-input codes cited as budget items: SINAPI inputs are
// long zero-padded numerics, unlike principal composition codes.
func isInputCode(code, source string) bool {
	c := strings.TrimSpace(code)
	return strings.EqualFold(strings.TrimSpace(source), "SINAPI") &&
		len(c) >= 6 && strings.HasPrefix(c, "0000") && isDigits(c)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHeaderLine(ln string, syn rules.Synthetic) bool {
	for _, m := range syn.HeaderMarkers {
		if ln == m {
			return true
		}
	}
	for _, pfx := range syn.HeaderPrefixes {
		if strings.HasPrefix(ln, pfx) {
			return true
		}
	}
	return false
}

func window(lines []string, from, n int) []string {
	if from >= len(lines) {
		return nil
	}
	to := min(from+n, len(lines))
	return lines[from:to]
}

func clip(s string) string {
	if len(s) > 180 {
		return s[:180]
	}
	return s
}
