package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andyfreed/kiddos/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Kiddos configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, span := tracer.Start(cmd.Context(), "config.show")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		apiKey := "not set (per-user vault keys still work)"
		if cfg.OpenAIAPIKey != "" {
			apiKey = "set"
		}
		cryptoKeys := "set"
		if cfg.UsingDefaultKeys() {
			cryptoKeys = "generated default (not for production)"
		}

		fmt.Printf("Data dir:        %s\n", cfg.DataDir)
		fmt.Printf("Store DB:        %s\n", cfg.StoreDBPath())
		fmt.Printf("Vault DB:        %s\n", cfg.VaultDBPath())
		fmt.Printf("OpenAI model:    %s\n", cfg.OpenAIModel)
		fmt.Printf("OpenAI API key:  %s\n", apiKey)
		fmt.Printf("Sweep schedule:  %s\n", cfg.SweepSchedule)
		fmt.Printf("Crypto keys:     %s\n", cryptoKeys)

		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
