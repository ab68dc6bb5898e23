// Package export renders a parse result as an XLSX workbook: one sheet for
// the synthetic budget tree, one for the composition annex, one for the
// validation findings.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/pvbaptista/orcaparse/internal/budget"
)

const (
	SheetBudget       = "Orçamento Sintético"
	SheetCompositions = "Composições"
	SheetFindings     = "Validação"
)

// WriteXLSX writes the workbook for a result to w.
func WriteXLSX(w io.Writer, res *budget.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeBudgetSheet(f, res.Budget); err != nil {
		return err
	}
	if err := writeCompositionsSheet(f, res.Compositions); err != nil {
		return err
	}
	if err := writeFindingsSheet(f, res.Validation); err != nil {
		return err
	}

	// The default sheet is replaced by ours.
	f.DeleteSheet("Sheet1")
	if i, err := f.GetSheetIndex(SheetBudget); err == nil {
		f.SetActiveSheet(i)
	}

	return f.Write(w)
}

func writeBudgetSheet(f *excelize.File, tree *budget.Tree) error {
	if _, err := f.NewSheet(SheetBudget); err != nil {
		return err
	}
	header := []any{"Item", "Tipo", "Código", "Banco", "Descrição", "Und", "Quant.", "Custo Unit. (sem BDI)", "Custo Unit. (com BDI)", "Custo Parcial / Total"}
	if err := f.SetSheetRow(SheetBudget, "A1", &header); err != nil {
		return err
	}

	if tree == nil {
		return nil
	}

	row := 2
	var werr error
	tree.Walk(func(n *budget.Node) {
		if werr != nil {
			return
		}
		var cells []any
		switch n.Kind {
		case budget.KindItem:
			cells = []any{
				n.Ordinal, string(n.Kind), n.Code, n.Source, n.Specification, n.Unit,
				nullCell(n.Quantity), nullCell(n.UnitCost), nullCell(n.UnitCostBDI), nullCell(n.PartialCost),
			}
		default:
			cells = []any{n.Ordinal, string(n.Kind), "", "", n.Label, "", "", "", "", n.Total}
		}
		werr = f.SetSheetRow(SheetBudget, fmt.Sprintf("A%d", row), &cells)
		row++
	})
	return werr
}

func writeCompositionsSheet(f *excelize.File, comps *budget.Compositions) error {
	if _, err := f.NewSheet(SheetCompositions); err != nil {
		return err
	}
	header := []any{"Item", "Papel", "Código", "Banco", "Descrição", "Classe", "Und", "Quant.", "Valor Unit.", "Total"}
	if err := f.SetSheetRow(SheetCompositions, "A1", &header); err != nil {
		return err
	}
	if comps == nil {
		return nil
	}

	ids := make([]string, 0, len(comps.Principals))
	for id := range comps.Principals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return comps.Principals[ids[i]].Ordinal < comps.Principals[ids[j]].Ordinal
	})

	row := 2
	put := func(ordinal, role string, r budget.CompositionRow) error {
		cells := []any{
			ordinal, role, r.Code, r.Source, r.Description, r.Class, r.Unit,
			nullCell(r.Quantity), nullCell(r.UnitPrice), nullCell(r.Total),
		}
		err := f.SetSheetRow(SheetCompositions, fmt.Sprintf("A%d", row), &cells)
		row++
		return err
	}

	for _, id := range ids {
		b := comps.Principals[id]
		if err := put(b.Ordinal, "principal", b.Principal); err != nil {
			return err
		}
		for _, aux := range b.Auxiliaries {
			if err := put(b.Ordinal, "auxiliar", aux); err != nil {
				return err
			}
		}
		for _, in := range b.Inputs {
			if err := put(b.Ordinal, "insumo", in); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFindingsSheet(f *excelize.File, rep *budget.Report) error {
	if _, err := f.NewSheet(SheetFindings); err != nil {
		return err
	}
	header := []any{"Categoria", "Detalhe"}
	if err := f.SetSheetRow(SheetFindings, "A1", &header); err != nil {
		return err
	}

	row := 2
	put := func(category, detail string) error {
		cells := []any{category, detail}
		err := f.SetSheetRow(SheetFindings, fmt.Sprintf("A%d", row), &cells)
		row++
		return err
	}

	for _, e := range rep.Errors {
		if err := put("erro", e); err != nil {
			return err
		}
	}
	for _, w := range rep.Warnings {
		if err := put("aviso", w); err != nil {
			return err
		}
	}
	for _, id := range rep.MissingCodes {
		if err := put("item_faltando", id); err != nil {
			return err
		}
	}
	for _, id := range rep.ExtraCodes {
		if err := put("item_extra", id); err != nil {
			return err
		}
	}
	for _, d := range rep.Discrepancies {
		detail := fmt.Sprintf("%s item=%s codigo=%s esperado=%s obtido=%s delta=%s",
			d.Kind, d.Ordinal, d.Code, d.Expected, d.Actual, d.Delta)
		if err := put("divergencia", detail); err != nil {
			return err
		}
	}
	return nil
}

// nullCell renders the "not filled" sentinel as an empty cell, never a zero.
func nullCell(d decimal.NullDecimal) any {
	if !d.Valid {
		return ""
	}
	f, _ := d.Decimal.Float64()
	return f
}
