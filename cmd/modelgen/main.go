// Command modelgen compiles and inspects classifier artifacts for the
// built-in catalog.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "modelgen",
	Short:        "Compile and inspect diagnosis classifier artifacts",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newCompileCmd())
	rootCmd.AddCommand(newInspectCmd())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
