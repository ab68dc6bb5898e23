package parser

import (
	"regexp"
	"strings"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/rules"
	"github.com/pvbaptista/orcaparse/internal/sanitize"
)

// compKind tags the row variants of the composition annex.
type compKind int

const (
	compPrincipal compKind = iota
	compAuxiliary
	compInput
)

type compLabel struct {
	kind   compKind
	folded string // accent-folded, lowercased label
	words  int    // label word count, for slicing the rest of the line
}

// compositionGrammar bundles the compiled shapes of the annex section.
type compositionGrammar struct {
	itemHeader *regexp.Regexp
	colHeader  *regexp.Regexp
	rowTail    *regexp.Regexp

	labels      []compLabel // longest first, so "composição auxiliar" wins over "composição"
	classLabels []string    // folded, longest first
}

func compileCompositionGrammar(num string, cfg rules.Compositions) compositionGrammar {
	g := compositionGrammar{
		itemHeader: regexp.MustCompile(`(?i)^(\d+(?:\.\d+)*)\s+c[óo]d(.*)$`),
		colHeader:  regexp.MustCompile(`(?i)^c[óo]d\S*\s+banco\b`),
		rowTail:    regexp.MustCompile(`\s(\S+)\s+(` + num + `)\s+(` + num + `)\s+(` + num + `)\s*$`),
	}
	add := func(kind compKind, labels []string) {
		for _, l := range labels {
			f := foldLower(l)
			g.labels = append(g.labels, compLabel{kind: kind, folded: f, words: len(strings.Fields(f))})
		}
	}
	add(compAuxiliary, cfg.AuxiliaryLabels)
	add(compPrincipal, cfg.PrincipalLabels)
	add(compInput, cfg.InputLabels)
	sortByFoldedLen(g.labels)

	for _, c := range cfg.ClassLabels {
		g.classLabels = append(g.classLabels, foldLower(c))
	}
	sortStringsByLen(g.classLabels)
	return g
}

// parseCompositions segments the sanitized annex lines into blocks: a
// principal row opens a block, auxiliary and input rows belong to the open
// block, an item header row binds the following block to a budget ordinal.
func (p *SINAPI) parseCompositions(lines []sanitize.Line, refs []budget.Ref, rep *budget.Report) *budget.Compositions {
	out := budget.NewCompositions()
	rec := newRecoverer(refs, p.rules.Compositions.Recovery)

	ordinalByID := map[string]string{}
	for _, r := range refs {
		ordinalByID[normCode(r.Code)+"|"+normCode(r.Source)] = r.Ordinal
	}

	var cur *budget.CompositionBlock
	curOrdinal := ""
	headerChecked := false

	flush := func() {
		if cur == nil {
			return
		}
		out.Principals[cur.Principal.ID()] = cur
		cur = nil
	}

	recordAlias := func(truncated, full string) {
		if prev, ok := out.Aliases[truncated]; ok && prev != full {
			rep.Warnf("[composicoes] alias conflitante para %q: %q vs %q; mantido o primeiro", truncated, prev, full)
			return
		}
		out.Aliases[truncated] = full
	}

	for _, l := range lines {
		ln := l.Text
		if sanitize.ContainsAny(ln, p.rules.Compositions.IgnoreMarkers) {
			continue
		}

		if m := p.comp.itemHeader.FindStringSubmatch(ln); m != nil {
			flush()
			curOrdinal = m[1]
			if !headerChecked {
				p.checkHeaderRow(ln, rep)
				headerChecked = true
			}
			continue
		}
		if p.comp.colHeader.MatchString(ln) {
			continue
		}

		kind, rest, ok := p.detectRowType(ln)
		if !ok {
			if p.comp.rowTail.MatchString(ln) && !p.looksLikeNewRow(ln) {
				rep.Warnf("[composicoes] linha com colunas numéricas não reconhecida: %s", clip(ln))
			}
			continue
		}

		row, ok := p.parseCompositionRow(rest)
		if !ok {
			rep.Warnf("[composicoes] linha %v sem colunas numéricas completas: %s", kindName(kind), clip(ln))
			continue
		}

		switch kind {
		case compPrincipal:
			flush()
			if full, recovered, ambiguous := rec.Recover(row.Code, row.Source); recovered && normCode(full) != normCode(row.Code) {
				recordAlias(row.Code, full)
				rep.Warnf("[composicoes] código truncado recuperado: %q -> %q (banco=%s)", row.Code, full, row.Source)
				row.Code = full
			} else if ambiguous {
				rep.Warnf("[composicoes] código possivelmente truncado %q (banco=%s) com múltiplos candidatos; mantido sem correção", row.Code, row.Source)
			}

			ordinal := curOrdinal
			if ordinal == "" {
				ordinal = ordinalByID[normCode(row.Code)+"|"+normCode(row.Source)]
			}
			cur = &budget.CompositionBlock{
				Ordinal:     ordinal,
				Principal:   row,
				Auxiliaries: []budget.CompositionRow{},
				Inputs:      []budget.CompositionRow{},
			}
			curOrdinal = ""

		case compAuxiliary:
			if cur != nil {
				cur.Auxiliaries = append(cur.Auxiliaries, row)
			} else {
				rep.Warnf("[composicoes] composição auxiliar %s fora de bloco; registrada apenas como global", row.ID())
			}
			out.GlobalAuxiliaries[row.ID()] = row

		case compInput:
			if cur == nil {
				continue
			}
			cur.Inputs = append(cur.Inputs, row)
		}
	}
	flush()

	p.aliasAuxiliaries(out, rep, recordAlias)
	return out
}

// aliasAuxiliaries links auxiliary codes that are truncations of a principal
// in the same source, under the tighter auxiliary bound.
func (p *SINAPI) aliasAuxiliaries(out *budget.Compositions, rep *budget.Report, recordAlias func(truncated, full string)) {
	cfg := p.rules.Compositions.Recovery
	principalsBySource := map[string][]string{}
	for id := range out.Principals {
		code, source := budget.SplitID(id)
		key := normCode(source)
		principalsBySource[key] = append(principalsBySource[key], code)
	}

	for id, aux := range out.GlobalAuxiliaries {
		if _, ok := out.Principals[id]; ok {
			continue
		}
		var cands []string
		for _, pc := range principalsBySource[normCode(aux.Source)] {
			if prefixMatch(pc, aux.Code, cfg.AuxMaxMissing, cfg.MinPrefix) {
				cands = append(cands, pc)
			}
		}
		best, tie := chooseCodeCandidate(aux.Code, cands)
		if best != "" && !tie && normCode(best) != normCode(aux.Code) {
			recordAlias(aux.Code, best)
		}
	}
}

// detectRowType recognizes the row label at the start of a line, tolerating
// extraction damage: a glued leading "o", truncated words, accent loss. The
// fuzzy fallback only fires above the configured similarity ratio.
func (p *SINAPI) detectRowType(line string) (compKind, string, bool) {
	folded := foldLower(line)
	// "Composição" broken across cells often resurfaces as "oComposição...".
	if strings.HasPrefix(folded, "ocompos") || strings.HasPrefix(folded, "oinsumo") {
		folded = folded[1:]
		if i := strings.IndexAny(line, "cCiI"); i > 0 {
			line = line[i:]
		}
	}

	for _, lab := range p.comp.labels {
		if strings.HasPrefix(folded, lab.folded) {
			tail := folded[len(lab.folded):]
			if tail != "" && tail[0] != ' ' {
				continue
			}
			return lab.kind, dropWords(line, lab.words), true
		}
	}

	// Fuzzy fallback for damaged labels.
	first := firstWord(folded)
	if first == "" {
		return 0, "", false
	}
	minSim := p.rules.Compositions.MinLabelSimilarity
	if similarity(firstN(first, 6), "insumo") >= minSim {
		return compInput, dropWords(line, 1), true
	}
	if similarity(firstN(first, 10), "composicao") >= minSim {
		if strings.Contains(firstN(folded, 30), "auxiliar") {
			return compAuxiliary, dropWords(line, 2), true
		}
		return compPrincipal, dropWords(line, 1), true
	}
	return 0, "", false
}

// parseCompositionRow extracts the fields of one annex row given the text
// after its label: code, source, description, optional class, then the
// trailing unit/quantity/unit-price/total columns.
func (p *SINAPI) parseCompositionRow(rest string) (budget.CompositionRow, bool) {
	m := p.comp.rowTail.FindStringSubmatchIndex(rest)
	if m == nil {
		return budget.CompositionRow{}, false
	}
	groups := p.comp.rowTail.FindStringSubmatch(rest)
	head := strings.TrimSpace(rest[:m[0]])

	fields := strings.Fields(head)
	if len(fields) == 0 {
		return budget.CompositionRow{}, false
	}

	row := budget.CompositionRow{
		Unit:      groups[1],
		Quantity:  p.rules.Number.ParseNull(groups[2]),
		UnitPrice: p.rules.Number.ParseNull(groups[3]),
		Total:     p.rules.Number.ParseNull(groups[4]),
	}

	// Code, possibly with the source embedded: "00043132/ SINAPI".
	code := fields[0]
	fields = fields[1:]
	var embedded string
	if i := strings.Index(code, "/"); i != -1 {
		embedded = strings.TrimSpace(code[i+1:])
		code = strings.TrimSpace(code[:i])
		if embedded == "" && len(fields) > 0 {
			embedded = fields[0]
			fields = fields[1:]
		}
	}
	row.Code = code

	if len(fields) > 0 && p.isSourceToken(fields[0]) {
		row.SourceColumn = fields[0]
		fields = fields[1:]
	}
	row.Source = embedded
	if row.Source == "" {
		row.Source = row.SourceColumn
	}

	desc := strings.Join(fields, " ")
	desc, row.Class = p.splitClass(desc)
	row.Description = desc
	return row, true
}

// splitClass peels a known class label off the end of the description.
func (p *SINAPI) splitClass(desc string) (string, string) {
	folded := foldLower(desc)
	for _, cl := range p.comp.classLabels {
		if folded == cl || strings.HasSuffix(folded, " "+cl) {
			words := strings.Fields(desc)
			n := len(strings.Fields(cl))
			return strings.Join(words[:len(words)-n], " "), strings.Join(words[len(words)-n:], " ")
		}
	}
	return desc, ""
}

func (p *SINAPI) isSourceToken(tok string) bool {
	for _, s := range p.rules.Synthetic.Sources {
		if strings.EqualFold(foldLower(tok), foldLower(s)) {
			return true
		}
	}
	return false
}

// checkHeaderRow resolves the annex column header against the configured
// aliases and warns when a required column cannot be located.
func (p *SINAPI) checkHeaderRow(headerLine string, rep *budget.Report) {
	cfg := p.rules.Compositions
	if len(cfg.HeaderAliases) == 0 {
		return
	}
	cells := strings.Fields(headerLine)
	_, missing := ResolveHeaderMap(cells, cfg.HeaderAliases, cfg.RequiredColumns, cfg.MinHeaderSimilarity)
	if len(missing) > 0 {
		rep.Warnf("[composicoes] colunas esperadas não localizadas no cabeçalho: %s", strings.Join(missing, ", "))
	}
}

func kindName(k compKind) string {
	switch k {
	case compPrincipal:
		return "principal"
	case compAuxiliary:
		return "auxiliar"
	default:
		return "insumo"
	}
}

func foldLower(s string) string {
	return strings.ToLower(sanitize.Fold(sanitize.NormalizeSpace(s)))
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func dropWords(s string, n int) string {
	f := strings.Fields(s)
	if len(f) <= n {
		return ""
	}
	return strings.Join(f[n:], " ")
}

func sortByFoldedLen(labels []compLabel) {
	for i := 1; i < len(labels); i++ {
		for j := i; j > 0 && len(labels[j].folded) > len(labels[j-1].folded); j-- {
			labels[j], labels[j-1] = labels[j-1], labels[j]
		}
	}
}

func sortStringsByLen(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && len(ss[j]) > len(ss[j-1]); j-- {
			ss[j], ss[j-1] = ss[j-1], ss[j]
		}
	}
}
