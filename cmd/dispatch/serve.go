package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/icdev-ai/dispatch/internal/api"
	"github.com/icdev-ai/dispatch/internal/arbiter"
	"github.com/icdev-ai/dispatch/internal/config"
	"github.com/icdev-ai/dispatch/internal/decompose"
	"github.com/icdev-ai/dispatch/internal/mailbox"
	"github.com/icdev-ai/dispatch/internal/memory"
	"github.com/icdev-ai/dispatch/internal/orchestrator"
	"github.com/icdev-ai/dispatch/internal/router"
	"github.com/icdev-ai/dispatch/internal/state"
)

var serveDebugLog string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and admin HTTP server",
	Long: `Start the dispatch orchestrator.

Loads configuration, opens the workflow state database, loads the
authority matrix, and serves the admin HTTP surface until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDebugLog, "debug-log", "", "Path for the scheduler debug log (empty disables)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir := cfg.Storage.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	db, err := state.Open(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	secret := cfg.Mailbox.Secret
	if secret == "" {
		// Ephemeral secret: messages do not survive a restart without a
		// configured DISPATCH_MAILBOX_SECRET.
		secret = uuid.New().String()
		fmt.Fprintf(os.Stderr, "%s mailbox.secret not set, using ephemeral secret\n", color.YellowString("⚠"))
	}
	mbox, err := mailbox.Open(filepath.Join(dataDir, "mailbox.db"), mailbox.NewSigner(secret))
	if err != nil {
		return fmt.Errorf("open mailbox database: %w", err)
	}
	defer mbox.Close()

	mem, err := memory.Open(filepath.Join(dataDir, "memory.db"), memory.Options{
		ScopeCap:         cfg.Memory.ScopeCap,
		ImportanceWeight: cfg.Memory.ImportanceWeight,
		RecencyWeight:    cfg.Memory.RecencyWeight,
		RecencyHalfLife:  cfg.Memory.RecencyHalfLife,
	})
	if err != nil {
		return fmt.Errorf("open memory database: %w", err)
	}
	defer mem.Close()

	matrix, err := arbiter.LoadMatrix(cfg.Arbiter.MatrixPath)
	if err != nil {
		return fmt.Errorf("load authority matrix: %w", err)
	}
	arb := arbiter.New(matrix, db)

	if cfg.Arbiter.WatchMatrix {
		watcher, werr := arbiter.Watch(arb, cfg.Arbiter.MatrixPath)
		if werr != nil {
			fmt.Fprintf(os.Stderr, "%s matrix watch disabled: %v\n", color.YellowString("⚠"), werr)
		} else {
			defer watcher.Close()
		}
	}

	registry := router.NewRegistry(cfg.Router.StalenessThreshold)

	planner, err := decompose.NewClaudePlanner(decompose.ClaudeConfig{
		Model:         cfg.Planner.Model,
		APIKey:        cfg.Planner.APIKey,
		UseAWSBedrock: cfg.Planner.UseAWSBedrock,
		AWSRegion:     cfg.Planner.AWSRegion,
		AWSProfile:    cfg.Planner.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("configure planner: %w", err)
	}
	adapter := decompose.NewAdapter(planner)

	logger, err := orchestrator.NewDebugLogger(serveDebugLog)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Close()
	orchestrator.SetPackageLogger(logger)

	invoker := orchestrator.NewClaudeInvoker(planner.Client(), planner.Model())
	scheduler := orchestrator.New(cfg.Scheduler, db, registry, arb, invoker)
	scheduler.SetEmitter(orchestrator.NewEmitter())

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(db, registry, adapter, scheduler, mbox, mem).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	fmt.Printf("%s dispatch listening on %s\n", color.GreenString("✓"), cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-sigCh:
	}

	fmt.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
