package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset per-source sync state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored high-water mark of every source",
	Args:  cobra.NoArgs,
	RunE:  stateListAction,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset <source-id>",
	Short: "Forget a source's progress so the next run treats it as new",
	Args:  cobra.ExactArgs(1),
	RunE:  stateResetAction,
}

func init() {
	stateCmd.AddCommand(stateListCmd, stateResetCmd)
	rootCmd.AddCommand(stateCmd)
}

func stateListAction(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Storage, cfg.Database)
	if err != nil {
		return err
	}
	defer store.close()

	states, err := store.states.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sync states: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tLAST IDENTIFIER\tLAST TIMESTAMP\tDELIVERED\tUPDATED")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.SourceID,
			s.LastIdentifier,
			s.LastTimestamp.UTC().Format(time.RFC3339),
			s.TotalDelivered,
			s.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func stateResetAction(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Storage, cfg.Database)
	if err != nil {
		return err
	}
	defer store.close()

	id := args[0]
	existed, err := store.states.Delete(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("reset sync state: %w", err)
	}
	if !existed {
		fmt.Fprintf(cmd.OutOrStdout(), "no state stored for %s\n", id)
		return nil
	}

	logger.Info("sync state reset", "source", id)
	fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", id)
	return nil
}
