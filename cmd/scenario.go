package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cleandispatch/infra/logger"
	"github.com/kilianp07/cleandispatch/qa/scenarios"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Replay dispatch scenarios",
}

var scenarioRunCmd = &cobra.Command{
	Use:   "run <file>...",
	Short: "Replay YAML scenarios against in-memory stores",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScenarios,
}

func init() {
	scenarioCmd.AddCommand(scenarioRunCmd)
	rootCmd.AddCommand(scenarioCmd)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		sc, err := scenarios.Load(path)
		if err != nil {
			return err
		}
		res, err := scenarios.Run(cmd.Context(), sc, logger.New("scenario"))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		status := "ok"
		if !res.OK() {
			status = "FAIL"
			failed++
		}
		fmt.Fprintf(out, "%-4s %s (%d jobs, %d events, %d escalations)\n", status, sc.Name, len(res.Jobs), res.Events, res.Escalations)
		kinds := make([]string, 0, len(res.Notifications))
		for k, n := range res.Notifications {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, n))
		}
		sort.Strings(kinds)
		if len(kinds) > 0 {
			fmt.Fprintf(out, "     notifications: %v\n", kinds)
		}
		for _, m := range res.Mismatches {
			fmt.Fprintf(out, "     %s\n", m)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
	}
	return nil
}
