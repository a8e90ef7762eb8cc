package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petvet/biometry/internal/classifier"
	"github.com/petvet/biometry/internal/embedder"
	"github.com/petvet/biometry/internal/recognizer"
	"github.com/petvet/biometry/internal/validate"
	"github.com/petvet/biometry/internal/web"
	"github.com/petvet/biometry/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the biometry API server.
The server exposes subject registration, photo uploads with background
embedding extraction, classifier training and photo recognition.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	deps, err := setupDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	srvCfg := deps.cfg.Server
	if flagPort := mustGetInt(cmd, "port"); flagPort != 0 {
		srvCfg.Port = flagPort
	}

	emb := embedder.New(deps.store, deps.uploads, deps.client, deps.cfg.Embedder, nil)
	pool := worker.NewPool(deps.cfg.Worker, emb.ProcessImage)
	pool.Start()
	defer pool.Stop()

	validator := validate.NewService(ctx, deps.cfg.Validation)
	trainer := classifier.NewTrainer(deps.store, deps.models, deps.cfg.Classifier, deps.client.Identity(), deps.client.Dim())
	rec := recognizer.New(deps.store, deps.models, deps.client, deps.cfg.Recognition)

	server := web.NewServer(srvCfg, web.Deps{
		Store:      deps.store,
		Uploads:    deps.uploads,
		Pool:       pool,
		Recognizer: rec,
		Trainer:    trainer,
		Validator:  validator,
		Extractor:  deps.client.Identity(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting biometry API on http://localhost:%d\n", srvCfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
