package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSINAPI_IsValid(t *testing.T) {
	r := DefaultSINAPI()
	if err := r.Validate(); err != nil {
		t.Fatalf("built-in rules must validate: %v", err)
	}
	if r.SourceID != "sinapi" {
		t.Errorf("expected source id sinapi, got %q", r.SourceID)
	}
	if !r.Validation.Strict {
		t.Error("SINAPI defaults run strict")
	}
	if r.Synthetic.OrphanPolicy != OrphanSynthesize {
		t.Errorf("expected orphan policy %q, got %q", OrphanSynthesize, r.Synthetic.OrphanPolicy)
	}
}

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	r := &Rules{}
	r.ApplyDefaults()

	if r.Sanitizer.MaxGluePasses != 4 {
		t.Errorf("expected 4 glue passes, got %d", r.Sanitizer.MaxGluePasses)
	}
	if r.Compositions.Recovery.MinPrefix != 5 || r.Compositions.Recovery.MaxMissing != 4 {
		t.Errorf("unexpected recovery defaults: %+v", r.Compositions.Recovery)
	}
	if r.Compositions.Recovery.AuxMaxMissing != 1 {
		t.Errorf("expected tight auxiliary bound, got %d", r.Compositions.Recovery.AuxMaxMissing)
	}
	if r.Validation.Tolerances.ItemAbs != 0.02 {
		t.Errorf("unexpected item tolerance: %v", r.Validation.Tolerances.ItemAbs)
	}
	if r.Number.Decimal != "," || r.Number.Thousands != "." {
		t.Errorf("expected pt-BR number format, got %+v", r.Number)
	}
}

func TestValidate_RejectsBadConfig(t *testing.T) {
	r := DefaultSINAPI()
	r.Synthetic.OrphanPolicy = "drop"
	if err := r.Validate(); err == nil {
		t.Error("expected unknown orphan policy to be rejected")
	}

	r = DefaultSINAPI()
	r.Sanitizer.GlueRules = append(r.Sanitizer.GlueRules, GlueRule{Pattern: "("})
	if err := r.Validate(); err == nil {
		t.Error("expected broken glue pattern to be rejected")
	}

	r = DefaultSINAPI()
	r.Compositions.Recovery.MinPrefix = 0
	if err := r.Validate(); err == nil {
		t.Error("expected zero min_prefix to be rejected")
	}
}

func TestLoad_EmptyPathUsesBuiltin(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Get("sinapi") == nil {
		t.Fatal("expected built-in sinapi rules")
	}
}

func TestLoad_MissingFileUsesBuiltin(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Get("sinapi") == nil {
		t.Fatal("expected built-in sinapi rules")
	}
}

func TestLoad_YAMLOverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	yaml := `
sicro:
  synthetic:
    sources: ["SICRO", "Próprio"]
    orphan_policy: error
  validation:
    strict: false
    tolerances:
      item_abs: 0.10
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sicro := reg.Get("sicro")
	if sicro == nil {
		t.Fatal("expected sicro entry")
	}
	if sicro.SourceID != "sicro" {
		t.Errorf("expected source id from the map key, got %q", sicro.SourceID)
	}
	if sicro.Synthetic.OrphanPolicy != OrphanError {
		t.Errorf("expected orphan policy from file, got %q", sicro.Synthetic.OrphanPolicy)
	}
	if sicro.Validation.Tolerances.ItemAbs != 0.10 {
		t.Errorf("expected overridden tolerance, got %v", sicro.Validation.Tolerances.ItemAbs)
	}
	// Untouched fields still get the family defaults.
	if sicro.Compositions.Recovery.MinPrefix != 5 {
		t.Errorf("expected default recovery to fill in, got %d", sicro.Compositions.Recovery.MinPrefix)
	}

	// The built-in sinapi entry survives alongside file entries.
	if reg.Get("sinapi") == nil {
		t.Error("expected sinapi fallback entry")
	}
	if len(reg.IDs()) != 2 {
		t.Errorf("expected two sources, got %v", reg.IDs())
	}
}

func TestLoad_RejectsInvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	yaml := `
broken:
  synthetic:
    orphan_policy: whatever
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected invalid orphan policy to fail the load")
	}
}
