package validate

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/money"
	"github.com/pvbaptista/orcaparse/internal/rules"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

func TestWithin(t *testing.T) {
	cases := []struct {
		expected, actual, abs, rel string
		want                       bool
	}{
		{"255.00", "255.00", "0", "0", true},             // exact needs no tolerance
		{"255.00", "250.00", "10", "0", true},            // inside absolute bound
		{"255.00", "250.00", "1", "0", false},            // outside both
		{"255.00", "250.00", "0", "0.02", true},          // inside relative bound
		{"10000.00", "10001.00", "0.02", "0.0002", true}, // relative rescues large values
		{"-5.00", "-5.01", "0.02", "0", true},            // sign-insensitive difference
		{"0.00", "0.05", "0.02", "0.5", false},           // relative bound of zero is zero
	}
	for _, tc := range cases {
		got := Within(d(tc.expected), d(tc.actual), d(tc.abs), d(tc.rel))
		if got != tc.want {
			t.Errorf("Within(%s, %s, abs=%s, rel=%s) = %v, want %v",
				tc.expected, tc.actual, tc.abs, tc.rel, got, tc.want)
		}
	}
}

func defaultValidation() rules.Validation {
	r := rules.DefaultSINAPI()
	return r.Validation
}

func leaf(ordinal, code, source, qty, unitNoBDI, unitBDI, partial string) *budget.Node {
	n := &budget.Node{
		Kind:    budget.KindItem,
		Ordinal: ordinal,
		Code:    code,
		Source:  source,
	}
	if qty != "" {
		n.Quantity = nd(qty)
	}
	if unitNoBDI != "" {
		n.UnitCost = nd(unitNoBDI)
	}
	if unitBDI != "" {
		n.UnitCostBDI = nd(unitBDI)
	}
	if partial != "" {
		n.PartialCost = nd(partial)
	}
	return n
}

func group(ordinal, label, total string, children ...*budget.Node) *budget.Node {
	return &budget.Node{Kind: budget.KindGroup, Ordinal: ordinal, Label: label, Total: total, Children: children}
}

func treeOf(roots ...*budget.Node) *budget.Tree {
	t := &budget.Tree{Roots: roots}
	t.Walk(func(n *budget.Node) {
		if n.Kind == budget.KindItem {
			t.Flat = append(t.Flat, n)
			t.FlatOrdinals = append(t.FlatOrdinals, n.Ordinal)
		}
	})
	return t
}

func TestRun_ItemArithmetic(t *testing.T) {
	tree := treeOf(group("1", "SERVIÇOS", "505,50",
		leaf("1.1", "CP_A", "Próprio", "10", "20", "25.50", "255.00"),
		leaf("1.2", "CP_B", "Próprio", "10", "20", "25.50", "250.50"),
	))
	rep := budget.NewReport()
	Run(tree, nil, budget.NewCompositions(), false, defaultValidation(), money.PTBR, rep)

	if len(rep.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got %+v", rep.Discrepancies)
	}
	disc := rep.Discrepancies[0]
	if disc.Kind != "custo_parcial" || disc.Ordinal != "1.2" {
		t.Errorf("unexpected discrepancy: %+v", disc)
	}
	if disc.Expected != "255.00" || disc.Actual != "250.50" || disc.Delta != "4.50" {
		t.Errorf("unexpected values: %+v", disc)
	}
}

func TestRun_SentinelRowsExempt(t *testing.T) {
	// A missing column means "not filled", never zero: no arithmetic check.
	tree := treeOf(group("1", "SERVIÇOS", "",
		leaf("1.1", "CP_A", "Próprio", "10", "20", "25.50", ""),
		leaf("1.2", "CP_B", "Próprio", "", "20", "25.50", "255.00"),
	))
	rep := budget.NewReport()
	Run(tree, nil, budget.NewCompositions(), false, defaultValidation(), money.PTBR, rep)
	if len(rep.Discrepancies) != 0 {
		t.Errorf("sentinel rows must be exempt, got %+v", rep.Discrepancies)
	}
}

func TestRun_GroupRollup(t *testing.T) {
	tree := treeOf(group("1", "SERVIÇOS", "500,00",
		leaf("1.1", "CP_A", "Próprio", "10", "20", "25.50", "255.00"),
		leaf("1.2", "CP_B", "Próprio", "10", "20", "25.50", "255.00"),
	))
	rep := budget.NewReport()
	Run(tree, nil, budget.NewCompositions(), false, defaultValidation(), money.PTBR, rep)

	var found bool
	for _, disc := range rep.Discrepancies {
		if disc.Kind == "total_grupo" && disc.Ordinal == "1" {
			found = true
			if disc.Expected != "510.00" || disc.Actual != "500.00" || disc.Delta != "10.00" {
				t.Errorf("unexpected roll-up values: %+v", disc)
			}
		}
	}
	if !found {
		t.Errorf("expected a group roll-up discrepancy, got %+v", rep.Discrepancies)
	}
}

func TestRun_GroupRollupUsesChildGroupTotals(t *testing.T) {
	// The printed subgroup total is trusted over recursion when parseable.
	sub := group("1.1", "SUB", "300,00",
		leaf("1.1.1", "CP_A", "Próprio", "1", "100", "100", "100.00"),
	)
	tree := treeOf(group("1", "SERVIÇOS", "300,00", sub))
	rep := budget.NewReport()
	Run(tree, nil, budget.NewCompositions(), false, defaultValidation(), money.PTBR, rep)

	for _, disc := range rep.Discrepancies {
		if disc.Kind == "total_grupo" && disc.Ordinal == "1" {
			t.Errorf("group 1 must trust the printed subgroup total: %+v", disc)
		}
	}
	// The subgroup itself disagrees with its only child.
	var found bool
	for _, disc := range rep.Discrepancies {
		if disc.Kind == "total_grupo" && disc.Ordinal == "1.1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a discrepancy on group 1.1, got %+v", rep.Discrepancies)
	}
}

func TestRun_IncompleteSumSkipsGroupCheck(t *testing.T) {
	tree := treeOf(group("1", "SERVIÇOS", "999,99",
		leaf("1.1", "CP_A", "Próprio", "10", "20", "25.50", ""),
	))
	rep := budget.NewReport()
	Run(tree, nil, budget.NewCompositions(), false, defaultValidation(), money.PTBR, rep)
	if len(rep.Discrepancies) != 0 {
		t.Errorf("incomplete child sum must skip the check, got %+v", rep.Discrepancies)
	}
}

func TestRun_ReportAllGroupChecks(t *testing.T) {
	tree := treeOf(group("1", "SERVIÇOS", "255,00",
		leaf("1.1", "CP_A", "Próprio", "10", "20", "25.50", "255.00"),
	))
	cfg := defaultValidation()
	cfg.ReportAllGroupChecks = true
	rep := budget.NewReport()
	Run(tree, nil, budget.NewCompositions(), false, cfg, money.PTBR, rep)

	var found bool
	for _, w := range rep.Warnings {
		if strings.Contains(w, "total confere") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an informational check warning, got %v", rep.Warnings)
	}
}

func annexWith(rows ...budget.CompositionRow) *budget.Compositions {
	comps := budget.NewCompositions()
	for i := range rows {
		comps.Principals[rows[i].ID()] = &budget.CompositionBlock{Principal: rows[i]}
	}
	return comps
}

func TestRun_ReconcileMissingAndExtras(t *testing.T) {
	refs := []budget.Ref{
		{Ordinal: "1.1", Code: "CP_A_01", Source: "Próprio", UnitCost: nd("10.00")},
		{Ordinal: "1.2", Code: "CP_B_02", Source: "Próprio", UnitCost: nd("20.00")},
	}
	comps := annexWith(
		budget.CompositionRow{Code: "CP_A_01", Source: "Próprio", UnitPrice: nd("10.00")},
		budget.CompositionRow{Code: "CP_ZZ_09", Source: "Próprio", UnitPrice: nd("5.00")},
	)
	rep := budget.NewReport()
	Run(nil, refs, comps, true, defaultValidation(), money.PTBR, rep)

	if len(rep.MissingCodes) != 1 || rep.MissingCodes[0] != "CP_B_02|Próprio" {
		t.Errorf("itens_faltando = %v", rep.MissingCodes)
	}
	if len(rep.ExtraCodes) != 1 || rep.ExtraCodes[0] != "CP_ZZ_09|Próprio" {
		t.Errorf("itens_extras = %v", rep.ExtraCodes)
	}
	for _, m := range rep.MissingCodes {
		for _, e := range rep.ExtraCodes {
			if m == e {
				t.Errorf("the lists intersect at %s", m)
			}
		}
	}
}

func TestRun_AbsentAnnexSkipsReconciliation(t *testing.T) {
	refs := []budget.Ref{{Ordinal: "1.1", Code: "CP_A_01", Source: "Próprio", UnitCost: nd("10.00")}}
	rep := budget.NewReport()
	Run(nil, refs, budget.NewCompositions(), false, defaultValidation(), money.PTBR, rep)

	if len(rep.MissingCodes) != 0 || len(rep.ExtraCodes) != 0 || len(rep.Errors) != 0 {
		t.Errorf("absent annex must skip reconciliation: missing=%v extras=%v erros=%v",
			rep.MissingCodes, rep.ExtraCodes, rep.Errors)
	}
}

func TestRun_AliasBridgesTruncatedBlock(t *testing.T) {
	// The annex block still carries the truncated code; the alias map links it.
	refs := []budget.Ref{{Ordinal: "1.1", Code: "CP_SEE_04", Source: "Próprio", UnitCost: nd("10.00")}}
	comps := annexWith(budget.CompositionRow{Code: "CP_SEE_0", Source: "Próprio", UnitPrice: nd("10.00")})
	comps.Aliases["CP_SEE_0"] = "CP_SEE_04"

	rep := budget.NewReport()
	Run(nil, refs, comps, true, defaultValidation(), money.PTBR, rep)
	if len(rep.MissingCodes) != 0 || len(rep.ExtraCodes) != 0 {
		t.Errorf("alias must bridge the pair: missing=%v extras=%v", rep.MissingCodes, rep.ExtraCodes)
	}
}

func TestRun_PrefixAndCostRescue(t *testing.T) {
	// Both sides damaged: codes are mutual prefixes and unit costs agree.
	refs := []budget.Ref{{Ordinal: "1.1", Code: "CP_SEE_048", Source: "Próprio", UnitCost: nd("10.00")}}
	comps := annexWith(budget.CompositionRow{Code: "CP_SEE_0", Source: "Próprio", UnitPrice: nd("10.00")})

	rep := budget.NewReport()
	Run(nil, refs, comps, true, defaultValidation(), money.PTBR, rep)
	if len(rep.MissingCodes) != 0 || len(rep.ExtraCodes) != 0 {
		t.Errorf("prefix+cost pair must be rescued: missing=%v extras=%v", rep.MissingCodes, rep.ExtraCodes)
	}
}

func TestRun_PrefixRescueRefusedOnCostMismatch(t *testing.T) {
	refs := []budget.Ref{{Ordinal: "1.1", Code: "CP_SEE_048", Source: "Próprio", UnitCost: nd("10.00")}}
	comps := annexWith(budget.CompositionRow{Code: "CP_SEE_0", Source: "Próprio", UnitPrice: nd("99.00")})

	rep := budget.NewReport()
	Run(nil, refs, comps, true, defaultValidation(), money.PTBR, rep)
	if len(rep.MissingCodes) != 1 || len(rep.ExtraCodes) != 1 {
		t.Errorf("disagreeing costs must not pair: missing=%v extras=%v", rep.MissingCodes, rep.ExtraCodes)
	}
}

func TestRun_PrefixRescueRefusedOnTwoPartners(t *testing.T) {
	refs := []budget.Ref{{Ordinal: "1.1", Code: "CP_SEE_048", Source: "Próprio", UnitCost: nd("10.00")}}
	comps := annexWith(
		budget.CompositionRow{Code: "CP_SEE_0", Source: "Próprio", UnitPrice: nd("10.00")},
		budget.CompositionRow{Code: "CP_SEE_04", Source: "Próprio", UnitPrice: nd("10.00")},
	)
	rep := budget.NewReport()
	Run(nil, refs, comps, true, defaultValidation(), money.PTBR, rep)
	if len(rep.MissingCodes) != 1 || len(rep.ExtraCodes) != 2 {
		t.Errorf("two plausible partners must refuse: missing=%v extras=%v", rep.MissingCodes, rep.ExtraCodes)
	}
}

func TestRun_UnitCostDiscrepancy(t *testing.T) {
	refs := []budget.Ref{{Ordinal: "1.1", Code: "CP_A_01", Source: "Próprio", UnitCost: nd("8.00")}}
	comps := annexWith(budget.CompositionRow{Code: "CP_A_01", Source: "Próprio", UnitPrice: nd("9.50")})

	rep := budget.NewReport()
	Run(nil, refs, comps, true, defaultValidation(), money.PTBR, rep)

	if len(rep.Discrepancies) != 1 {
		t.Fatalf("expected 1 discrepancy, got %+v", rep.Discrepancies)
	}
	disc := rep.Discrepancies[0]
	if disc.Kind != "custo_unitario" || disc.Code != "CP_A_01" {
		t.Errorf("unexpected discrepancy: %+v", disc)
	}
	if disc.Expected != "8.00" || disc.Actual != "9.50" || disc.Delta != "1.50" {
		t.Errorf("unexpected values: %+v", disc)
	}
}

func TestRun_StrictRouting(t *testing.T) {
	refs := []budget.Ref{{Ordinal: "1.1", Code: "CP_A_01", Source: "Próprio", UnitCost: nd("10.00")}}
	comps := budget.NewCompositions()

	strict := defaultValidation()
	strict.Strict = true
	rep := budget.NewReport()
	Run(nil, refs, comps, true, strict, money.PTBR, rep)
	if len(rep.Errors) == 0 {
		t.Errorf("strict mode must route missing codes to erros, got avisos=%v", rep.Warnings)
	}

	lenient := defaultValidation()
	lenient.Strict = false
	rep = budget.NewReport()
	Run(nil, refs, comps, true, lenient, money.PTBR, rep)
	if len(rep.Errors) != 0 {
		t.Errorf("non-strict mode must keep findings in avisos, got erros=%v", rep.Errors)
	}
	if len(rep.Warnings) == 0 {
		t.Error("non-strict mode must still report the finding as aviso")
	}
}

func TestRun_ExtrasRoutingKnob(t *testing.T) {
	comps := annexWith(budget.CompositionRow{Code: "CP_ZZ_09", Source: "Próprio", UnitPrice: nd("5.00")})

	cfg := defaultValidation()
	cfg.Strict = true
	rep := budget.NewReport()
	Run(nil, nil, comps, true, cfg, money.PTBR, rep)
	if len(rep.Errors) != 0 {
		t.Errorf("extras are informational by default, got erros=%v", rep.Errors)
	}

	cfg.ExtraCodesError = true
	rep = budget.NewReport()
	Run(nil, nil, comps, true, cfg, money.PTBR, rep)
	if !containsSubstr(rep.Errors, "sem item correspondente") {
		t.Errorf("extra_codes_error must promote extras to erros, got %v / %v", rep.Errors, rep.Warnings)
	}
}

func TestClipList(t *testing.T) {
	ss := []string{"a", "b", "c"}
	if got := clipList(ss, 10); len(got) != 3 {
		t.Errorf("short list must pass through, got %v", got)
	}
	got := clipList([]string{"a", "b", "c", "d"}, 2)
	if len(got) != 3 || got[2] != "..." {
		t.Errorf("clipped list = %v", got)
	}
}

func containsSubstr(ss []string, substr string) bool {
	for _, s := range ss {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
