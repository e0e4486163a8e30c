package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solatis/ideafilter/internal/actions"
	"github.com/solatis/ideafilter/internal/filter"
)

var checkCmd = &cobra.Command{
	Use:   "check [document]",
	Short: "Compile a rule document and list its rules",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().String("rules", "", "rule document path (overrides filter.config)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.Filter.Config
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no rule document given")
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	f, err := filter.New(context.Background(), path, filter.Options{
		Name:   cfg.Filter.Module,
		Env:    checkEnv(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "module %s: %d rules\n", f.Module(), len(f.Rules()))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RULE\tCONDITION\tACTIONS\tELSE")
	for _, r := range f.Rules() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Predicate, actionRefs(r.Actions), actionRefs(r.ElseActions))
	}
	return tw.Flush()
}

func actionRefs(list []actions.Action) string {
	if len(list) == 0 {
		return "-"
	}
	refs := make([]string, len(list))
	for i, a := range list {
		refs[i] = a.ID() + ":" + a.Kind()
	}
	return strings.Join(refs, ",")
}
