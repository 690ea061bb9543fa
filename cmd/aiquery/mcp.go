package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"aiquery/internal/cli"
	"aiquery/internal/config"
	"aiquery/internal/log"
	"aiquery/internal/mcp"
	"aiquery/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose the aggregation tools over the Model Context Protocol (stdio)",
	Long: `Serve the transaction aggregation tools to an MCP client over stdin/stdout.
The transactions are loaded once from --transactions, a JSON array or an
object with a "transactions" key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("transactions")
		if path == "" {
			return fmt.Errorf("--transactions is required")
		}

		cfg := config.Load()
		// stdout carries the protocol
		logger := cli.SetupLogger(cfg, os.Stderr)

		txs, err := mcp.LoadTransactions(path)
		if err != nil {
			return err
		}
		routing, err := cli.LoadRouting(cfg)
		if err != nil {
			return err
		}

		srv := mcp.NewServer(tools.NewCatalog(routing), txs, version, logger, nil)
		logger.Info("Serving MCP over stdio",
			log.FieldTransactions, len(txs),
			"path", path)
		return srv.ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringP("transactions", "t", "", "Path to a JSON file holding the transactions")
}
