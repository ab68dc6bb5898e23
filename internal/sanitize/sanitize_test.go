package sanitize

import (
	"reflect"
	"testing"

	"github.com/pvbaptista/orcaparse/internal/rules"
)

func newTestSanitizer(t *testing.T) *Sanitizer {
	t.Helper()
	s, err := New(rules.DefaultSINAPI().Sanitizer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestSanitize_DropsBoilerplate(t *testing.T) {
	s := newTestSanitizer(t)
	pages := []Page{{Number: 1, Text: "ORÇAMENTO SINTÉTICO\n" +
		"ITEM CÓDIGO FONTE ESPECIFICAÇÃO UND QUANT\n" +
		"Página 3 de 12\n" +
		"BDI: 23,20%\n" +
		"1 SERVIÇOS PRELIMINARES 29.894,69\n"}}

	lines := s.Sanitize(pages, nil)
	if len(lines) != 1 {
		t.Fatalf("expected 1 surviving line, got %d: %v", len(lines), lines)
	}
	if lines[0].Text != "1 SERVIÇOS PRELIMINARES 29.894,69" {
		t.Errorf("unexpected surviving line: %q", lines[0].Text)
	}
	if lines[0].Page != 1 || lines[0].Index != 0 {
		t.Errorf("unexpected position: page=%d index=%d", lines[0].Page, lines[0].Index)
	}
}

func TestSanitize_BreaksGluedSectionTitle(t *testing.T) {
	s := newTestSanitizer(t)
	pages := []Page{{Number: 4, Text: "2.3 CP_PAR_02 Próprio ALVENARIA M2 10,00 50,00 61,60 616,00ANEXO 3"}}

	lines := s.Sanitize(pages, nil)
	// "ANEXO 3" is broken onto its own line; the data row survives intact.
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if lines[1].Text != "ANEXO 3" {
		t.Errorf("expected broken-off title, got %q", lines[1].Text)
	}
}

func TestSanitize_IndexMonotonicAcrossPages(t *testing.T) {
	s := newTestSanitizer(t)
	pages := []Page{
		{Number: 1, Text: "linha um\nlinha dois"},
		{Number: 2, Text: "linha três"},
	}
	lines := s.Sanitize(pages, nil)
	var got []int
	for _, l := range lines {
		got = append(got, l.Index)
	}
	if !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("expected monotonic indexes 0..2, got %v", got)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := newTestSanitizer(t)
	pages := []Page{{Number: 1, Text: "1 SERVIÇOS 1.000,00\n1.1 CP_X_01 Próprio LIMPEZA M2 2,00 1,00 1,50 3,00"}}

	first := s.Sanitize(pages, nil)
	var again []Page
	for _, l := range first {
		again = append(again, Page{Number: l.Page, Text: l.Text})
	}
	second := s.Sanitize(again, nil)

	if len(first) != len(second) {
		t.Fatalf("line count changed on re-sanitize: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text {
			t.Errorf("line %d changed: %q vs %q", i, first[i].Text, second[i].Text)
		}
	}
}

func TestRepairGlued_Bounded(t *testing.T) {
	s, err := New(rules.Sanitizer{
		GlueRules: []rules.GlueRule{
			{Pattern: `(\d,\d{2})(\d{1,3}(?:\.\d{3})*,)`, Replace: `$1 $2`},
		},
		MaxGluePasses: 4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := s.RepairGlued("10,004.043,93")
	if got != "10,00 4.043,93" {
		t.Errorf("expected split amounts, got %q", got)
	}
	// A line nothing matches stays put.
	if got := s.RepairGlued("texto estável"); got != "texto estável" {
		t.Errorf("unexpected rewrite: %q", got)
	}
}

func TestSafeContinuation(t *testing.T) {
	s := newTestSanitizer(t)
	cases := []struct {
		line string
		want bool
	}{
		{"COM FORNECIMENTO DE MATERIAL", true},
		{"2.4 CP_PAR_03 Próprio OUTRO ITEM", false}, // new-row shape
		{"TOTAL SEM BDI 1.000,00", false},           // toxic marker
		{"", false},
	}
	for _, tc := range cases {
		if got := s.SafeContinuation(tc.line, nil); got != tc.want {
			t.Errorf("SafeContinuation(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestSafeContinuation_DynamicMarker(t *testing.T) {
	s := newTestSanitizer(t)
	dyn := DynamicMarkers("OBRA: CRECHE MUNICIPAL")
	if s.SafeContinuation("OBRA: CRECHE MUNICIPAL", dyn) {
		t.Error("work-name footer must not be merged into a specification")
	}
}

func TestFold(t *testing.T) {
	if got := Fold("Composição Auxiliar"); got != "Composicao Auxiliar" {
		t.Errorf("Fold = %q", got)
	}
	if got := Fold("MÊS"); got != "MES" {
		t.Errorf("Fold = %q", got)
	}
}

func TestDynamicMarkers_Variants(t *testing.T) {
	out := DynamicMarkers("São Paulo")
	want := map[string]bool{"São Paulo": true, "SãoPaulo": true, "Sao Paulo": true, "SaoPaulo": true}
	if len(out) != len(want) {
		t.Fatalf("expected %d variants, got %v", len(want), out)
	}
	for _, m := range out {
		if !want[m] {
			t.Errorf("unexpected variant %q", m)
		}
	}
}

func TestMergeMarkers_LongestFirstDeduped(t *testing.T) {
	out := MergeMarkers([]string{"ANEXO", "ANEXO 3 - COMPOSIÇÕES"}, []string{"ANEXO", ""})
	if len(out) != 2 {
		t.Fatalf("expected deduped markers, got %v", out)
	}
	if out[0] != "ANEXO 3 - COMPOSIÇÕES" {
		t.Errorf("expected longest marker first, got %v", out)
	}
}

func TestCutInline_EarliestMarkerWins(t *testing.T) {
	got := CutInline("ALVENARIA DE VEDAÇÃO www.prefeitura.gov.br Página 4", []string{"Página", "www."})
	if got != "ALVENARIA DE VEDAÇÃO" {
		t.Errorf("CutInline = %q", got)
	}
}

func TestNormalizeSpace_NBSP(t *testing.T) {
	if got := NormalizeSpace("a  b   c "); got != "a b c" {
		t.Errorf("NormalizeSpace = %q", got)
	}
}
