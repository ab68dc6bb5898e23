package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pvbaptista/orcaparse/internal/budget"
	"github.com/pvbaptista/orcaparse/internal/export"
	"github.com/pvbaptista/orcaparse/internal/pdftext"
	"github.com/pvbaptista/orcaparse/internal/pipeline"
	"github.com/pvbaptista/orcaparse/internal/rules"
)

type parseFlags struct {
	source    string
	rulesPath string
	budget    string
	comps     string
	baseID    string
	workName  string
	workLoc   string
	jsonOut   string
	xlsxOut   string
}

func newParseCmd() *cobra.Command {
	var f parseFlags
	cmd := &cobra.Command{
		Use:   "parse <arquivo.pdf>",
		Short: "Interpreta um PDF localmente e imprime o resumo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.source, "fonte", "sinapi", "base de regras a aplicar")
	cmd.Flags().StringVar(&f.rulesPath, "rules", os.Getenv("ORCAPARSE_RULES"), "arquivo YAML de regras")
	cmd.Flags().StringVar(&f.budget, "orcamento", "", "páginas do orçamento sintético, ex. 2-14")
	cmd.Flags().StringVar(&f.comps, "composicoes", "", "páginas do anexo de composições, ex. 15-80")
	cmd.Flags().StringVar(&f.baseID, "base-id", "", "identificador do documento na saída")
	cmd.Flags().StringVar(&f.workName, "obra-nome", "", "nome da obra impresso nos rodapés")
	cmd.Flags().StringVar(&f.workLoc, "obra-local", "", "localização da obra impressa nos rodapés")
	cmd.Flags().StringVar(&f.jsonOut, "json", "", "grava o resultado JSON neste caminho ('-' para stdout)")
	cmd.Flags().StringVar(&f.xlsxOut, "xlsx", "", "grava a planilha XLSX neste caminho")
	cmd.MarkFlagRequired("orcamento")
	return cmd
}

func runParse(path string, f parseFlags) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	reg, err := rules.Load(f.rulesPath)
	if err != nil {
		return err
	}

	req := pipeline.Request{
		SourceID:     f.source,
		BaseID:       f.baseID,
		WorkName:     f.workName,
		WorkLocation: f.workLoc,
		PDF:          data,
	}
	if req.BudgetStart, req.BudgetEnd, err = pageRange(f.budget); err != nil {
		return fmt.Errorf("--orcamento: %w", err)
	}
	if f.comps != "" {
		if req.CompositionStart, req.CompositionEnd, err = pageRange(f.comps); err != nil {
			return fmt.Errorf("--composicoes: %w", err)
		}
	}

	runner := &pipeline.Runner{
		Rules:     reg,
		Extractor: pdftext.Extractor{FallbackPdftotext: true},
		Log:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
	res, err := runner.Run(context.Background(), req)
	if err != nil {
		return err
	}

	printSummary(res)

	if f.jsonOut != "" {
		if err := writeJSONOut(f.jsonOut, res); err != nil {
			return err
		}
	}
	if f.xlsxOut != "" {
		out, err := os.Create(f.xlsxOut)
		if err != nil {
			return err
		}
		defer out.Close()
		if err := export.WriteXLSX(out, res); err != nil {
			return err
		}
	}
	return nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func printSummary(res *budget.Result) {
	fmt.Println(titleStyle.Render("orcaparse: " + res.BaseID))
	fmt.Printf("  itens do orçamento:     %d\n", len(res.Budget.FlatOrdinals))
	fmt.Printf("  grupos raiz:            %d\n", len(res.Budget.Roots))
	fmt.Printf("  composições principais: %d\n", len(res.Compositions.Principals))
	fmt.Printf("  auxiliares globais:     %d\n", len(res.Compositions.GlobalAuxiliaries))
	fmt.Printf("  aliases de código:      %d\n", len(res.Compositions.Aliases))

	rep := res.Validation
	fmt.Println()
	line := func(style lipgloss.Style, label string, n int) {
		if n == 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %s: 0", label)))
			return
		}
		fmt.Println(style.Render(fmt.Sprintf("  %s: %d", label, n)))
	}
	line(errStyle, "erros", len(rep.Errors))
	line(warnStyle, "avisos", len(rep.Warnings))
	line(warnStyle, "divergências", len(rep.Discrepancies))
	line(warnStyle, "itens faltando", len(rep.MissingCodes))
	line(warnStyle, "itens extras", len(rep.ExtraCodes))
	if len(rep.Errors) == 0 {
		fmt.Println(okStyle.Render("  validação sem erros"))
	}
	for _, e := range rep.Errors {
		fmt.Println(errStyle.Render("  ✗ " + e))
	}
}

func writeJSONOut(path string, res *budget.Result) error {
	var out *os.File
	if path == "-" {
		out = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// pageRange parses "2-14" (or a single "7") into an inclusive 1-based range.
func pageRange(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	first, second, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil {
		return 0, 0, fmt.Errorf("intervalo inválido %q", s)
	}
	if !found {
		return start, start, nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(second))
	if err != nil {
		return 0, 0, fmt.Errorf("intervalo inválido %q", s)
	}
	return start, end, nil
}
