package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boxos/boxcore/internal/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate workflow documents",
	Long: `Validate workflow documents against the schema without running them.

Examples:
  boxcore validate workflows/boot.json
  boxcore validate workflows/*.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	v, err := validation.NewValidator()
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("FAIL  %s: %v\n", path, err)
			failed++
			continue
		}
		doc, err := v.Parse(raw)
		if err != nil {
			fmt.Printf("FAIL  %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Printf("OK    %s (%s, %d nodes)\n", path, doc.Name, len(doc.Nodes))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed validation", failed, len(args))
	}
	return nil
}
