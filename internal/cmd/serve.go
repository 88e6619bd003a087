package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/andyfreed/kiddos/internal/agent"
	"github.com/andyfreed/kiddos/internal/config"
	"github.com/andyfreed/kiddos/internal/extract"
	"github.com/andyfreed/kiddos/internal/llm"
	"github.com/andyfreed/kiddos/internal/secrets"
	"github.com/andyfreed/kiddos/internal/server"
	"github.com/andyfreed/kiddos/internal/store"
	"github.com/andyfreed/kiddos/internal/trigger"
)

var (
	servePort    int
	serveNoSweep bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Kiddos server with the assistant, ingest, and extraction sweep",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP server port")
	serveCmd.Flags().BoolVar(&serveNoSweep, "no-sweep", false, "Disable the background extraction sweep")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	st, err := store.NewStore(cfg.StoreDBPath())
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	vault, err := secrets.NewVault(cfg.VaultDBPath(), cfg.VaultKey)
	if err != nil {
		return fmt.Errorf("initializing vault: %w", err)
	}
	defer vault.Close()

	resolver := llm.NewResolver(vault, cfg.OpenAIAPIKey, "")
	provider := llm.NewResolvingProvider(resolver)

	registry, err := agent.NewRegistry()
	if err != nil {
		return fmt.Errorf("compiling tool schemas: %w", err)
	}

	extractor, err := extract.NewExtractor(st, provider, cfg.OpenAIModel)
	if err != nil {
		return fmt.Errorf("initializing extractor: %w", err)
	}

	executor := agent.NewExecutor(st, registry, extractor)
	codec := agent.NewTokenCodec([]byte(cfg.SigningKey))
	orchestrator := agent.NewOrchestrator(st, provider, registry, executor, codec, cfg.OpenAIModel)
	undo := agent.NewUndoService(st)

	sweeper := trigger.NewSweeper(st, extractor)
	if !serveNoSweep && cfg.SweepSchedule != "" {
		if err := sweeper.Register(cfg.SweepSchedule); err != nil {
			return fmt.Errorf("registering sweep schedule: %w", err)
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	apiKeys := config.APIKeys()
	if len(apiKeys) == 0 {
		log.Warn().Msg("KIDDOS_API_KEYS not set — all API endpoints will return 401. Set for production.")
	}

	srv := server.NewServer(
		st,
		orchestrator,
		executor,
		undo,
		extractor,
		vault,
		apiKeys,
		server.WithVersion(resolvedVersion()),
	)

	addr := fmt.Sprintf(":%d", servePort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().
		Str("addr", addr).
		Str("model", cfg.OpenAIModel).
		Bool("sweep", !serveNoSweep && cfg.SweepSchedule != "").
		Msg("kiddos_serve_started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown_signal_received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server_stopped")
	return nil
}
