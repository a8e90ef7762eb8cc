package cmd

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/petvet/biometry/internal/embedder"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract embeddings for pending images",
	Long: `Process uploaded biometric images that have no embeddings yet.
Each image yields one primary embedding plus augmented sub-crop
embeddings from the detected body region.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().Int("limit", 100, "Maximum number of images to process")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit := mustGetInt(cmd, "limit")

	deps, err := setupDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	pending, err := deps.store.ListPendingImages(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list pending images: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println("No pending images to process.")
		return nil
	}
	fmt.Printf("Found %d pending images\n\n", len(pending))

	bar := progressbar.NewOptions(len(pending),
		progressbar.OptionSetDescription("Extracting embeddings"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	emb := embedder.New(deps.store, deps.uploads, deps.client, deps.cfg.Embedder, nil)
	processed, failed, err := emb.ProcessPending(ctx, limit, func() {
		_ = bar.Add(1)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("processing aborted: %w", err)
	}

	fmt.Printf("Processed %d images, %d failed\n", processed, failed)
	if processed > 0 {
		if count, err := deps.store.CountEmbeddings(ctx, deps.client.Identity()); err == nil {
			fmt.Printf("Embedding population for %s: %d\n", deps.client.Identity(), count)
		}
	}
	return nil
}
