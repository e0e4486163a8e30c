package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/ideafilter/internal/filter"
	"github.com/solatis/ideafilter/internal/ipindex"
	"github.com/solatis/ideafilter/internal/rules"
)

var evalCmd = &cobra.Command{
	Use:   "eval --expr EXPR [record.json]",
	Short: "Evaluate one condition against a JSON record",
	Long: `Compiles --expr, evaluates it against the record read from the given file
(stdin when omitted or -) and prints the verdict and the compiled tree.
Address groups are taken from --rules when given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().String("expr", "", "condition to evaluate")
	evalCmd.Flags().String("rules", "", "rule document providing address groups")
	_ = evalCmd.MarkFlagRequired("expr")
}

func runEval(cmd *cobra.Command, args []string) error {
	expr, _ := cmd.Flags().GetString("expr")

	var groups map[string]*ipindex.Index
	if path, _ := cmd.Flags().GetString("rules"); path != "" {
		doc, err := filter.LoadDocument(path)
		if err != nil {
			return err
		}
		if groups, err = doc.BuildAddressGroups(); err != nil {
			return err
		}
	}

	pred, err := rules.NewEngine(groups).Compile(expr)
	if err != nil {
		return err
	}

	data, err := readRecord(cmd, args)
	if err != nil {
		return err
	}
	record, err := rules.DecodeRecord(data)
	if err != nil {
		return err
	}

	verdict, err := pred.Evaluate(record)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "verdict: %s\n", verdict)
	fmt.Fprintf(out, "ast: %s\n", pred)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	return nil
}

func readRecord(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}
