package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/petvet/biometry/internal/classifier"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and activate a new classifier version",
	Long: `Train a classifier over all stored embeddings and activate it.
Previous versions stay in the database and can be inspected with
'biometry models'.`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("family", "", "Classifier family: knn, centroid or ensemble (defaults to config)")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	family := mustGetString(cmd, "family")

	deps, err := setupDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	trainer := classifier.NewTrainer(deps.store, deps.models, deps.cfg.Classifier, deps.client.Identity(), deps.client.Dim())
	version, err := trainer.Train(ctx, family)
	if errors.Is(err, classifier.ErrInsufficientData) {
		return fmt.Errorf("not enough embeddings to train (need at least %d)", classifier.MinTrainingEmbeddings)
	}
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	fmt.Printf("Trained and activated model version %d\n", version.Version)
	fmt.Printf("  Family:     %s\n", version.Family)
	fmt.Printf("  Extractor:  %s\n", version.Extractor)
	fmt.Printf("  Subjects:   %d\n", version.SubjectCount)
	fmt.Printf("  Embeddings: %d\n", version.EmbeddingCount)
	fmt.Printf("  Duration:   %.2fs\n", version.TrainingSeconds)

	if len(version.Metrics) > 0 {
		fmt.Println("  Metrics:")
		names := make([]string, 0, len(version.Metrics))
		for name := range version.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("    %-12s %.4f\n", name, version.Metrics[name])
		}
	}
	return nil
}
