package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andyfreed/kiddos/internal/agent"
	"github.com/andyfreed/kiddos/internal/config"
	"github.com/andyfreed/kiddos/internal/store"
)

var (
	actionsUser  string
	actionsLimit int
)

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Query and undo recorded assistant actions",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded actions",
	RunE:  actionsList,
}

var actionsUndoCmd = &cobra.Command{
	Use:   "undo [action-id]",
	Short: "Undo a recorded family item action",
	Args:  cobra.ExactArgs(1),
	RunE:  actionsUndo,
}

func init() {
	actionsCmd.PersistentFlags().StringVar(&actionsUser, "user", "default", "User ID to operate as")
	actionsListCmd.Flags().IntVar(&actionsLimit, "limit", 20, "Maximum records to show")

	actionsCmd.AddCommand(actionsListCmd)
	actionsCmd.AddCommand(actionsUndoCmd)
	rootCmd.AddCommand(actionsCmd)
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.NewStore(cfg.StoreDBPath())
}

func actionsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	actions, err := st.ListActions(ctx, actionsUser, actionsLimit)
	if err != nil {
		return fmt.Errorf("querying actions: %w", err)
	}
	if len(actions) == 0 {
		fmt.Println("No actions recorded.")
		return nil
	}
	renderActionList(os.Stdout, actions)
	return nil
}

func actionsUndo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	result, err := agent.NewUndoService(st).Undo(ctx, actionsUser, args[0])
	if err != nil {
		return fmt.Errorf("undoing action: %w", err)
	}
	fmt.Printf("Action %s undone (%s).\n", result.ActionID, result.Undone)
	return nil
}

// renderActionList writes action lines to w (testable).
func renderActionList(w io.Writer, actions []*store.AgentAction) {
	fmt.Fprintf(w, "Recorded Actions (showing %d):\n\n", len(actions))
	for _, a := range actions {
		target := "-"
		if a.TargetTable != nil {
			target = *a.TargetTable
			if a.TargetID != nil {
				target += "/" + *a.TargetID
			}
		}
		fmt.Fprintf(w, "  %s | %s | %s | %s | %s\n",
			a.ID,
			a.CreatedAt.Format("2006-01-02 15:04:05"),
			a.Actor,
			a.ActionType,
			target,
		)
	}
}
