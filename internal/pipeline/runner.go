package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/parser"
	"github.com/pvbaptista/orcaparse/internal/pdftext"
	"github.com/pvbaptista/orcaparse/internal/rules"
)

// Runner executes one parse request end to end: extract the two page
// ranges from the PDF, then run the rule set's parser over them.
type Runner struct {
	Rules     rules.Registry
	Extractor pdftext.Extractor
	Log       *slog.Logger
}

// Run parses a request. Errors are caller-contract problems (unknown rule
// set, bad page ranges, unreadable PDF); data-quality findings go into the
// result's report instead.
func (r *Runner) Run(ctx context.Context, req Request) (*budget.Result, error) {
	rs := r.Rules.Get(req.SourceID)
	if rs == nil {
		return nil, fmt.Errorf("base de regras desconhecida: %q", req.SourceID)
	}
	p, err := parser.ForSource(rs.SourceID, rs)
	if err != nil {
		return nil, err
	}

	var budgetPages, compPages []pdftext.Page
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		budgetPages, err = r.Extractor.ExtractRange(req.PDF, req.BudgetStart, req.BudgetEnd)
		if err != nil {
			return fmt.Errorf("orçamento (páginas %d-%d): %w", req.BudgetStart, req.BudgetEnd, err)
		}
		return nil
	})
	if req.CompositionStart != 0 || req.CompositionEnd != 0 {
		g.Go(func() error {
			var err error
			compPages, err = r.Extractor.ExtractRange(req.PDF, req.CompositionStart, req.CompositionEnd)
			if err != nil {
				return fmt.Errorf("composições (páginas %d-%d): %w", req.CompositionStart, req.CompositionEnd, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	in := parser.Input{
		BudgetPages:      toParserPages(budgetPages),
		CompositionPages: toParserPages(compPages),
		Context: parser.Context{
			WorkName:     req.WorkName,
			WorkLocation: req.WorkLocation,
		},
	}

	res, err := p.Parse(in)
	if err != nil {
		return nil, err
	}
	res.BaseID = req.BaseID
	if req.BaseID == "" {
		res.BaseID = rs.SourceID
	}

	r.Log.Info("parse finished",
		"base_id", res.BaseID,
		"fonte", res.Source,
		"itens", len(res.Budget.FlatOrdinals),
		"principais", len(res.Compositions.Principals),
		"avisos", len(res.Validation.Warnings),
		"erros", len(res.Validation.Errors),
	)
	return res, nil
}

func toParserPages(pages []pdftext.Page) []parser.Page {
	out := make([]parser.Page, len(pages))
	for i, pg := range pages {
		out[i] = parser.Page{Number: pg.Number, Text: pg.Text}
	}
	return out
}
