package budget

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NodeKind discriminates the three node variants of the synthetic budget tree.
type NodeKind string

const (
	KindGroup    NodeKind = "meta"
	KindSubgroup NodeKind = "submeta"
	KindItem     NodeKind = "item"
)

// Node is one entry of the synthetic budget tree. Groups and subgroups carry
// Label and the raw printed Total; leaf items carry the code/cost columns.
// Parent holds the ordinal of the enclosing node ("" for roots) and is a
// lookup reference only, never an ownership edge.
type Node struct {
	Kind    NodeKind `json:"tipo"`
	Ordinal string   `json:"item"`
	Parent  string   `json:"-"`

	// Group / subgroup fields.
	Label string `json:"descricao,omitempty"`
	Total string `json:"custo_total,omitempty"`

	// Leaf item fields.
	Code          string              `json:"codigo,omitempty"`
	Source        string              `json:"fonte,omitempty"`
	Specification string              `json:"especificacao,omitempty"`
	Unit          string              `json:"und,omitempty"`
	Quantity      decimal.NullDecimal `json:"quant"`
	UnitCost      decimal.NullDecimal `json:"custo_unitario_sem_bdi"`
	UnitCostBDI   decimal.NullDecimal `json:"custo_unitario_com_bdi"`
	PartialCost   decimal.NullDecimal `json:"custo_parcial"`

	Children []*Node `json:"filhos,omitempty"`
}

// Depth is the 1-based nesting level implied by the ordinal ("9" -> 1, "9.4" -> 2).
func (n *Node) Depth() int {
	if n.Ordinal == "" {
		return 0
	}
	return strings.Count(n.Ordinal, ".") + 1
}

// ID returns the "CODE|SOURCE" identity of a leaf item.
func (n *Node) ID() string {
	return MakeID(n.Code, n.Source)
}

// Tree is the parsed synthetic budget: the root groups plus the authoritative
// depth-first, document-order list of leaf items.
type Tree struct {
	Label        string   `json:"descricao"`
	Roots        []*Node  `json:"itens_raiz"`
	FlatOrdinals []string `json:"itens_plano"`

	// Flat is the DFS document-order leaf list consumed by the composition
	// parser and the validator. Not serialized; FlatOrdinals mirrors it on the wire.
	Flat []*Node `json:"-"`
}

// Walk visits every node of the tree depth-first in document order.
func (t *Tree) Walk(fn func(n *Node)) {
	var rec func(nodes []*Node)
	rec = func(nodes []*Node) {
		for _, n := range nodes {
			fn(n)
			rec(n.Children)
		}
	}
	rec(t.Roots)
}

// Ref is one reference entry derived from a budget leaf item, used by the
// composition parser for truncated-code recovery and by the validator for
// reconciliation.
type Ref struct {
	Ordinal  string
	Code     string
	Source   string
	UnitCost decimal.NullDecimal // unit cost without markup, tie-break material
}

// ID returns the "CODE|SOURCE" identity of the reference.
func (r Ref) ID() string {
	return MakeID(r.Code, r.Source)
}

// MakeID builds the "CODE|SOURCE" key used throughout the composition maps.
func MakeID(code, source string) string {
	return strings.TrimSpace(code) + "|" + strings.TrimSpace(source)
}

// SplitID is the inverse of MakeID.
func SplitID(id string) (code, source string) {
	code, source, _ = strings.Cut(id, "|")
	return strings.TrimSpace(code), strings.TrimSpace(source)
}

// CompositionRow is a single row of a composition block: the principal
// composition itself, an auxiliary composition, or an input resource.
type CompositionRow struct {
	Code        string              `json:"codigo"`
	Source      string              `json:"banco"`
	Description string              `json:"descricao"`
	Class       string              `json:"tipo"`
	Unit        string              `json:"und"`
	Quantity    decimal.NullDecimal `json:"quant"`
	UnitPrice   decimal.NullDecimal `json:"valor_unit"`
	Total       decimal.NullDecimal `json:"total"`

	// SourceColumn keeps the source as printed in its own column when the row
	// carried it embedded in the code cell instead.
	SourceColumn string `json:"banco_coluna,omitempty"`
}

// ID returns the "CODE|SOURCE" identity of the row.
func (r CompositionRow) ID() string {
	return MakeID(r.Code, r.Source)
}

// CompositionBlock groups one principal composition with its auxiliary
// compositions and input resources, keyed by the budget ordinal it serves
// when that could be established.
type CompositionBlock struct {
	Ordinal     string           `json:"item"`
	Principal   CompositionRow   `json:"principal"`
	Auxiliaries []CompositionRow `json:"composicoes_auxiliares"`
	Inputs      []CompositionRow `json:"insumos"`
}

// Compositions is the parsed composition annex.
type Compositions struct {
	// Principals maps "CODE|SOURCE" to its block.
	Principals map[string]*CompositionBlock `json:"principais"`

	// GlobalAuxiliaries collects auxiliary compositions reused across blocks
	// (or seen outside any block), keyed by "CODE|SOURCE".
	GlobalAuxiliaries map[string]CompositionRow `json:"auxiliares_globais"`

	// Aliases maps a truncated code discovered in the annex to the full code
	// recovered from the budget reference set.
	Aliases map[string]string `json:"aliases_auxiliares"`
}

// NewCompositions returns an empty, non-nil composition result.
func NewCompositions() *Compositions {
	return &Compositions{
		Principals:        map[string]*CompositionBlock{},
		GlobalAuxiliaries: map[string]CompositionRow{},
		Aliases:           map[string]string{},
	}
}

// Discrepancy is one failed numeric check.
type Discrepancy struct {
	Kind      string `json:"tipo"` // "custo_parcial", "total_grupo" or "custo_unitario"
	Ordinal   string `json:"item"`
	Code      string `json:"codigo,omitempty"`
	Expected  string `json:"esperado"`
	Actual    string `json:"obtido"`
	Delta     string `json:"delta"`
	Tolerance string `json:"tolerancia"`
}

// Report is the validation outcome. It is always complete: strict mode only
// decides whether findings land in Errors or stay in Warnings.
type Report struct {
	MissingCodes  []string      `json:"itens_faltando"`
	ExtraCodes    []string      `json:"itens_extras"`
	Warnings      []string      `json:"avisos"`
	Errors        []string      `json:"erros"`
	Discrepancies []Discrepancy `json:"divergencias"`
}

// NewReport returns a report with non-nil slices so the wire shape is stable.
func NewReport() *Report {
	return &Report{
		MissingCodes:  []string{},
		ExtraCodes:    []string{},
		Warnings:      []string{},
		Errors:        []string{},
		Discrepancies: []Discrepancy{},
	}
}

// Warnf appends a warning.
func (r *Report) Warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Errorf appends an error.
func (r *Report) Errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Result is the full outcome of one parse invocation. BaseID identifies the
// document for the caller; Source names the rule set the parse ran under.
type Result struct {
	BaseID       string        `json:"base_id"`
	Source       string        `json:"fonte"`
	Budget       *Tree         `json:"orcamento_sintetico"`
	Compositions *Compositions `json:"composicoes,omitempty"`
	Validation   *Report       `json:"validacao"`
}
