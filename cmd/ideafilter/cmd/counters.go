package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Print action counters from the configured backend",
	RunE:  runCounters,
}

func init() {
	rootCmd.AddCommand(countersCmd)
	countersCmd.Flags().String("module", "", "only list counters of this module")
	countersCmd.Flags().Bool("reset", false, "delete the counters of --module after printing")
}

func runCounters(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	module, _ := cmd.Flags().GetString("module")
	reset, _ := cmd.Flags().GetBool("reset")
	if reset && module == "" {
		return fmt.Errorf("--reset requires --module")
	}

	ctx := context.Background()
	ctrs, err := openCounters(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ctrs.Close()

	snapshot, err := ctrs.Snapshot(ctx, module)
	if err != nil {
		return fmt.Errorf("failed to list counters: %w", err)
	}

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := cmd.OutOrStdout()
	for _, k := range keys {
		fmt.Fprintf(out, "%s %d\n", k, snapshot[k])
	}

	if reset {
		ctrs.Reset(ctx, module)
	}
	return nil
}
