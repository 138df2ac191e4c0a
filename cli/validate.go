package cli

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/warp/payroll-engine/equation"
)

// ValidationResult is the output of the validate command.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Parts    []equation.Prepared `json:"parts,omitempty"`
	Names    []string            `json:"names,omitempty"`
	Metrics  []string            `json:"metrics,omitempty"`
	Helpers  []string            `json:"helpers,omitempty"`
	Problems []equation.Problem  `json:"problems,omitempty"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var condition, quantity, file string

	cmd := &cobra.Command{
		Use:   "validate [expression]",
		Short: "Check equation text, or compile a whole batch with --file",
		Long: `Check one equation's expression, condition and quantity source.

With --file, the JSON batch (equations and variables) is compiled as a
whole: references, types and cycles are checked as well.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter{format: rootOpts.Format, w: cmd.OutOrStdout()}
			if file != "" {
				return runValidateBatch(f, file)
			}
			if len(args) == 0 {
				return wrapExitError(ExitCommandError, "an expression or --file is required", nil)
			}
			return runValidateText(f, args[0], condition, quantity)
		},
	}

	cmd.Flags().StringVar(&condition, "condition", "", "condition text")
	cmd.Flags().StringVar(&quantity, "quantity", "", "quantity source text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON batch file to compile")

	return cmd
}

func runValidateText(f formatter, expression, condition, quantity string) error {
	result := ValidationResult{Valid: true}
	texts := []struct {
		part equation.Part
		text string
	}{
		{equation.PartEquation, expression},
		{equation.PartCondition, condition},
		{equation.PartQuantity, equation.FixQuantitySource(quantity)},
	}
	for _, t := range texts {
		p, err := equation.Validate(t.part, t.text)
		if err != nil {
			result.Valid = false
			result.Problems = append(result.Problems, equation.Problems(err)...)
			continue
		}
		if !p.Empty() {
			result.Parts = append(result.Parts, p)
		}
	}
	return report(f, result)
}

func runValidateBatch(f formatter, path string) error {
	batch, err := readBatch(path)
	if err != nil {
		return err
	}
	result := ValidationResult{Valid: true}
	program, err := equation.NewProgram(batch)
	if err != nil {
		result.Valid = false
		result.Problems = equation.Problems(err)
		if result.Problems == nil {
			result.Problems = []equation.Problem{{Position: -1, Message: err.Error()}}
		}
	} else {
		result.Names = program.Names()
		result.Metrics = program.Metrics()
		result.Helpers = program.Helpers()
	}
	return report(f, result)
}

func report(f formatter, result ValidationResult) error {
	err := f.print(result, func(w io.Writer) {
		if result.Valid {
			fmt.Fprintln(w, "valid")
		}
		for _, p := range result.Parts {
			fmt.Fprintf(w, "  %-9s %s\n", p.Part, p.Text)
			if len(p.Metrics) > 0 {
				fmt.Fprintf(w, "  %-9s %v\n", "metrics", p.Metrics)
			}
		}
		for _, name := range result.Names {
			fmt.Fprintf(w, "  equation  %s\n", name)
		}
		if len(result.Metrics) > 0 {
			fmt.Fprintf(w, "  metrics   %v\n", result.Metrics)
		}
		for _, p := range result.Problems {
			writeProblem(w, p)
		}
	})
	if err != nil {
		return err
	}
	if !result.Valid {
		return wrapExitError(ExitFailure, fmt.Sprintf("%d problem(s)", len(result.Problems)), nil)
	}
	return nil
}

func writeProblem(w io.Writer, p equation.Problem) {
	where := string(p.Part)
	if p.Equation != "" {
		where = p.Equation + " " + where
	}
	if p.Position >= 0 {
		fmt.Fprintf(w, "error: %s at %d: %s\n", where, p.Position, p.Message)
		return
	}
	fmt.Fprintf(w, "error: %s: %s\n", where, p.Message)
}

func readBatch(path string) (equation.Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return equation.Batch{}, wrapExitError(ExitCommandError, "cannot read batch", err)
	}
	var batch equation.Batch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return equation.Batch{}, wrapExitError(ExitCommandError, "invalid batch JSON", err)
	}
	return batch, nil
}
