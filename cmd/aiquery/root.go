package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aiquery/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "aiquery",
	Short: "AI Query answers natural-language questions about financial transactions",
	Long: `AI Query runs a conversational assistant over a caller-supplied list of
NGN transactions. A decision engine picks aggregation tools, the results are
folded into a plain-text answer and optionally synthesized as speech.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		envFile, _ := cmd.Flags().GetString("env-file")
		cli.LoadEnvFile(envFile)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
}
