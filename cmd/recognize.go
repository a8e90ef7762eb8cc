package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/recognizer"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <photo>",
	Short: "Match a photo against the known subjects",
	Long: `Recognize the subject in a photo using the active classifier version.
With --subject the attempt counts as a verification and updates that
subject's match statistics.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Int64("subject", 0, "Expected subject ID for verification")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}

	deps, err := setupDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	var actual *int64
	if id := mustGetInt64(cmd, "subject"); id > 0 {
		actual = &id
	}

	// The query photo joins the audit trail like API recognitions do.
	ref := uuid.NewString() + ".jpg"
	if err := deps.uploads.Save(ref, data); err != nil {
		return fmt.Errorf("failed to store photo: %w", err)
	}

	rec := recognizer.New(deps.store, deps.models, deps.client, deps.cfg.Recognition)
	result, err := rec.Recognize(ctx, data, ref, actual)
	if errors.Is(err, database.ErrNoActiveModel) {
		return errors.New("no trained model available, run 'biometry train' first")
	}
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}

	printResult(ctx, deps, result)
	return nil
}

func printResult(ctx context.Context, deps *appDeps, result *recognizer.Result) {
	if !result.Matched {
		fmt.Printf("No match (confidence %.2f, threshold %.2f)\n", result.Confidence, result.Threshold)
		return
	}

	name := fmt.Sprintf("subject %d", *result.SubjectID)
	if subject, err := deps.store.GetSubject(ctx, *result.SubjectID); err == nil {
		name = fmt.Sprintf("%s (#%d)", subject.Name, subject.ID)
	}
	fmt.Printf("Matched %s with confidence %.2f\n", name, result.Confidence)
	fmt.Printf("  Model version: %d\n", result.ModelVersion)
	fmt.Printf("  Duration:      %s\n", result.Duration)
	if result.Fallback {
		fmt.Println("  Note: classifier-only fallback, no raw embeddings were available")
	}
}
