// Package rules holds the per-source parsing configuration: marker sets for
// the sanitizer, classification hints for the budget and composition sections,
// truncated-code recovery limits, and validation tolerances. A Rules value is
// loaded once per source and treated as read-only; every parse invocation
// receives it explicitly.
package rules

import (
	"fmt"
	"regexp"

	"github.com/pvbaptista/orcaparse/internal/money"
)

// Orphan policies for a leaf item with no enclosing group/subgroup.
const (
	OrphanSynthesize = "synthesize"
	OrphanError      = "error"
)

// Rules is the full configuration of one source (SINAPI, SICRO, ...).
type Rules struct {
	SourceID string `koanf:"-"`

	Sanitizer    Sanitizer    `koanf:"sanitizer"`
	Synthetic    Synthetic    `koanf:"synthetic"`
	Compositions Compositions `koanf:"compositions"`
	Validation   Validation   `koanf:"validation"`
	Number       money.Format `koanf:"number_format"`
}

// Sanitizer configures boilerplate stripping and glued-token repair.
type Sanitizer struct {
	// BreakBefore markers force a line break before each occurrence; they
	// undo section titles glued to the end of a data row by extraction.
	BreakBefore []string `koanf:"break_before"`

	// StripInlineFrom markers cut a line at the first occurrence (page
	// footers appended to the last data row of a page).
	StripInlineFrom []string `koanf:"strip_inline_from"`

	// DropLinesContaining / DropLinesExact / DropLinesMatching remove whole
	// header/footer boilerplate lines by substring, exact text, or regex.
	DropLinesContaining []string `koanf:"drop_lines_if_contains"`
	DropLinesExact      []string `koanf:"drop_lines_exact"`
	DropLinesMatching   []string `koanf:"drop_lines_matching"`

	// ToxicForContinuation marks lines that must never be merged into a
	// previous row's specification.
	ToxicForContinuation []string `koanf:"toxic_for_continuation"`

	// GlueRules repair tokens merged without a separating space. Applied in
	// order, repeatedly, until nothing matches or MaxGluePasses is reached.
	GlueRules     []GlueRule `koanf:"glue_rules"`
	MaxGluePasses int        `koanf:"max_glue_passes"`
}

// GlueRule is one positional repair: Pattern is a regexp, Replace its
// replacement (usually reinserting the lost space between capture groups).
type GlueRule struct {
	Pattern string `koanf:"pattern"`
	Replace string `koanf:"replace"`
}

// Synthetic configures the budget-section parser.
type Synthetic struct {
	IgnoreMarkers  []string `koanf:"ignore_markers"`
	HeaderMarkers  []string `koanf:"header_markers"`
	HeaderPrefixes []string `koanf:"header_prefixes"`
	StopMarkers    []string `koanf:"stop_markers"`

	// Sources are the accepted values of the leaf-item source column.
	Sources []string `koanf:"sources"`

	// GroupBlacklist words disqualify a description from being a group heading.
	GroupBlacklist []string `koanf:"group_blacklist"`

	// OrphanPolicy decides what happens to a leaf item with no open
	// group/subgroup; OrphanLabel names the synthesized group.
	OrphanPolicy string `koanf:"orphan_policy"`
	OrphanLabel  string `koanf:"orphan_label"`
}

// Compositions configures the composition-annex parser.
type Compositions struct {
	IgnoreMarkers []string `koanf:"ignore_markers"`

	// PrincipalLabels / AuxiliaryLabels / InputLabels are the row-type words
	// as printed ("Composição", "Composição Auxiliar", "Insumo").
	PrincipalLabels []string `koanf:"principal_labels"`
	AuxiliaryLabels []string `koanf:"auxiliary_labels"`
	InputLabels     []string `koanf:"input_labels"`

	// ClassLabels are known values of the class column ("Serviços",
	// "Mão de Obra", ...), stripped off the end of the description.
	ClassLabels []string `koanf:"class_labels"`

	// MinLabelSimilarity is the similarity ratio under which a damaged
	// row label is no longer recognized.
	MinLabelSimilarity float64 `koanf:"min_label_similarity"`

	// HeaderAliases maps canonical column names to the header spellings seen
	// in the wild; RequiredColumns must all resolve for a header row to be
	// considered sound. MinHeaderSimilarity bounds the fuzzy fallback.
	HeaderAliases       map[string][]string `koanf:"header_aliases"`
	RequiredColumns     []string            `koanf:"required_columns"`
	MinHeaderSimilarity float64             `koanf:"min_header_similarity"`

	Recovery Recovery `koanf:"recovery"`
}

// Recovery bounds truncated-code recovery against the budget reference set.
type Recovery struct {
	// MaxMissing is the largest number of characters a truncation may have
	// cut; MinPrefix the shortest token still eligible for recovery.
	MaxMissing int `koanf:"max_missing"`
	MinPrefix  int `koanf:"min_prefix"`

	// AuxMaxMissing is the tighter bound used when aliasing auxiliary codes
	// to principals.
	AuxMaxMissing int `koanf:"aux_max_missing"`

	// PreferSameSource breaks ties by exact source match before giving up.
	PreferSameSource bool `koanf:"prefer_same_source"`
}

// Validation configures the cross-validator.
type Validation struct {
	Strict bool `koanf:"strict"`

	AllowMissingGroupTotal bool   `koanf:"allow_missing_group_total"`
	MissingGroupTotalValue string `koanf:"missing_group_total_value"`
	FailIfContaminatedText bool   `koanf:"fail_if_contaminated_text"`
	ReportAllGroupChecks   bool   `koanf:"report_all_group_checks"`
	ExtraCodesError        bool   `koanf:"extra_codes_error"`

	Tolerances Tolerances `koanf:"tolerances"`
}

// Tolerances are the numeric check bands; a value within either the absolute
// or the relative band passes.
type Tolerances struct {
	ItemAbs  float64 `koanf:"item_abs"`
	ItemRel  float64 `koanf:"item_rel"`
	GroupAbs float64 `koanf:"group_abs"`
	GroupRel float64 `koanf:"group_rel"`
}

// Validate checks internal consistency (compilable patterns, known policies).
func (r *Rules) Validate() error {
	for _, g := range r.Sanitizer.GlueRules {
		if _, err := regexp.Compile(g.Pattern); err != nil {
			return fmt.Errorf("sanitizer glue rule %q: %w", g.Pattern, err)
		}
	}
	for _, p := range r.Sanitizer.DropLinesMatching {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("sanitizer drop pattern %q: %w", p, err)
		}
	}
	switch r.Synthetic.OrphanPolicy {
	case OrphanSynthesize, OrphanError:
	default:
		return fmt.Errorf("unknown orphan_policy %q", r.Synthetic.OrphanPolicy)
	}
	if r.Compositions.Recovery.MinPrefix <= 0 {
		return fmt.Errorf("recovery min_prefix must be positive")
	}
	return nil
}

// ApplyDefaults fills zero values with the SINAPI-family defaults so partial
// YAML entries stay usable.
func (r *Rules) ApplyDefaults() {
	if r.Sanitizer.MaxGluePasses <= 0 {
		r.Sanitizer.MaxGluePasses = 4
	}
	if r.Synthetic.OrphanPolicy == "" {
		r.Synthetic.OrphanPolicy = OrphanSynthesize
	}
	if r.Synthetic.OrphanLabel == "" {
		r.Synthetic.OrphanLabel = "SEM GRUPO"
	}
	if len(r.Synthetic.Sources) == 0 {
		r.Synthetic.Sources = []string{"SINAPI", "Próprio"}
	}
	if len(r.Synthetic.GroupBlacklist) == 0 {
		r.Synthetic.GroupBlacklist = []string{"SINAPI", "PRÓPRIO", "COMPOSIÇÃO", "UND", "QUANT", "CUSTO", "BDI", "%"}
	}
	if len(r.Compositions.PrincipalLabels) == 0 {
		r.Compositions.PrincipalLabels = []string{"Composição"}
	}
	if len(r.Compositions.AuxiliaryLabels) == 0 {
		r.Compositions.AuxiliaryLabels = []string{"Composição Auxiliar"}
	}
	if len(r.Compositions.InputLabels) == 0 {
		r.Compositions.InputLabels = []string{"Insumo"}
	}
	if r.Compositions.MinLabelSimilarity == 0 {
		r.Compositions.MinLabelSimilarity = 0.60
	}
	if r.Compositions.MinHeaderSimilarity == 0 {
		r.Compositions.MinHeaderSimilarity = 0.88
	}
	if r.Compositions.Recovery.MaxMissing == 0 {
		r.Compositions.Recovery.MaxMissing = 4
	}
	if r.Compositions.Recovery.MinPrefix == 0 {
		r.Compositions.Recovery.MinPrefix = 5
	}
	if r.Compositions.Recovery.AuxMaxMissing == 0 {
		r.Compositions.Recovery.AuxMaxMissing = 1
	}
	if r.Validation.Tolerances.ItemAbs == 0 {
		r.Validation.Tolerances.ItemAbs = 0.02
	}
	if r.Validation.Tolerances.ItemRel == 0 {
		r.Validation.Tolerances.ItemRel = 0.0002
	}
	if r.Validation.Tolerances.GroupAbs == 0 {
		r.Validation.Tolerances.GroupAbs = 0.05
	}
	if r.Validation.Tolerances.GroupRel == 0 {
		r.Validation.Tolerances.GroupRel = 0.0001
	}
	if r.Number == (money.Format{}) {
		r.Number = money.PTBR
	}
}

// DefaultSINAPI is the built-in configuration for the SINAPI document family,
// used when no rules file overrides it.
func DefaultSINAPI() *Rules {
	r := &Rules{
		SourceID: "sinapi",
		Sanitizer: Sanitizer{
			BreakBefore:     []string{"ORÇAMENTO SINTÉTICO", "ANEXO 3"},
			StripInlineFrom: []string{"www.", "Página"},
			DropLinesContaining: []string{
				"BDI:", "Encargos Sociais:",
			},
			DropLinesExact: []string{
				"ORÇAMENTO SINTÉTICO",
				"ITEM CÓDIGO FONTE ESPECIFICAÇÃO UND QUANT",
			},
			DropLinesMatching: []string{
				`^Página \d+`,
			},
			ToxicForContinuation: []string{"TOTAL SEM BDI", "TOTAL COM BDI", "ANEXO"},
			GlueRules: []GlueRule{
				// A code glued to the amount that follows it.
				{Pattern: `([A-Za-zÀ-ú]{3,})(\d)`, Replace: `$1 $2`},
				// Two decimal amounts printed without the column gap.
				{Pattern: `(\d,\d{2})(\d{1,3}(?:\.\d{3})*,)`, Replace: `$1 $2`},
			},
			MaxGluePasses: 4,
		},
		Synthetic: Synthetic{
			IgnoreMarkers:  []string{"ANEXO"},
			HeaderMarkers:  []string{"ITEM CÓDIGO FONTE ESPECIFICAÇÃO"},
			HeaderPrefixes: []string{"CUSTO UNITÁRIO", "ITEM CÓDIGO", "S/"},
			StopMarkers:    []string{"TOTAL SEM BDI", "TOTAL COM BDI"},
			OrphanPolicy:   OrphanSynthesize,
		},
		Compositions: Compositions{
			IgnoreMarkers: []string{"ANEXO 3"},
			ClassLabels: []string{
				"Serviços", "Materiais", "Equipamentos", "Mão de Obra",
				"Provisórios", "Armaduras", "Material", "Taxas",
			},
			HeaderAliases: map[string][]string{
				"codigo":     {"Código", "Cod.", "Codigo"},
				"banco":      {"Banco", "Fonte"},
				"descricao":  {"Descrição", "Descricao"},
				"tipo":       {"Tipo"},
				"und":        {"Und", "Unid.", "Unidade"},
				"quant":      {"Quant.", "Quantidade"},
				"valor_unit": {"Valor Unit", "Valor Unitário", "Custo Unit."},
				"total":      {"Total", "Custo Total"},
			},
			RequiredColumns: []string{"codigo", "banco", "descricao", "total"},
			Recovery:        Recovery{PreferSameSource: true},
		},
		Validation: Validation{
			Strict:                 true,
			AllowMissingGroupTotal: true,
			FailIfContaminatedText: true,
		},
	}
	r.ApplyDefaults()
	return r
}
