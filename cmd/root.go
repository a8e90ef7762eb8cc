// Package cmd implements the biometry command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "biometry",
	Short: "A biometric identification service for pets",
	Long: `Biometry registers subjects, extracts embedding sets from their photos,
trains versioned classifiers over the embedding population and matches
new photos against the known subjects with calibrated confidence.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
