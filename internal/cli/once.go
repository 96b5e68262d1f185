package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"feed_relay/internal/config"
	"feed_relay/internal/domain"
)

var onceSources []string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single sync over all sources and exit",
	Long:  "once performs one run and exits non-zero when any source did not complete, which suits cron.",
	RunE:  onceAction,
}

func init() {
	onceCmd.Flags().StringSliceVar(&onceSources, "source", nil, "only sync these source ids")
	rootCmd.AddCommand(onceCmd)
}

func onceAction(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if err := selectSources(cfg, onceSources); err != nil {
		return err
	}

	ctx := cmd.Context()
	if cfg.Sync.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		defer cancel()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, runErr := a.pipeline.Run(ctx)
	if stats != nil {
		printRun(cmd, stats)
	}
	return runErr
}

// selectSources narrows cfg to the named sources.
func selectSources(cfg *config.Config, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	known := lo.Map(cfg.Sources, func(s config.SourceConfig, _ int) string { return s.ID })
	if missing, _ := lo.Difference(ids, known); len(missing) > 0 {
		return fmt.Errorf("unknown source ids: %v", missing)
	}

	cfg.Sources = lo.Filter(cfg.Sources, func(s config.SourceConfig, _ int) bool {
		return lo.Contains(ids, s.ID)
	})
	return nil
}

func printRun(cmd *cobra.Command, stats *domain.RunStats) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run %s (%s)\n", stats.RunID, stats.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, "SOURCE\tSTATUS\tNEW\tMESSAGES\tCHUNKS\tDEGRADED\tFAILED\tERROR")
	for _, r := range stats.Sources {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.SourceID, r.Status, r.New, r.Messages, r.Chunks, r.Degraded, r.Failed, r.Error)
	}
	_ = w.Flush()
}
