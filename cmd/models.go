package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List trained classifier versions",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	deps, err := setupDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	versions, err := deps.store.ListVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	if len(versions) == 0 {
		fmt.Println("No trained models yet.")
		return nil
	}

	for _, v := range versions {
		marker := " "
		if v.Active {
			marker = "*"
		}
		fmt.Printf("%s v%-3d %-8s %-16s subjects=%-4d embeddings=%-5d %s\n",
			marker, v.Version, v.Family, v.Extractor, v.SubjectCount, v.EmbeddingCount,
			v.CreatedAt.Format("2006-01-02 15:04"))
		if acc, ok := v.Metrics["accuracy"]; ok {
			fmt.Printf("        accuracy=%.4f f1=%.4f\n", acc, v.Metrics["f1"])
		}
	}
	return nil
}
