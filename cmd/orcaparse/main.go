package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "orcaparse",
		Short: "Extrai orçamentos sintéticos e composições de PDFs de obra",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newParseCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
