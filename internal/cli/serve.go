package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	guardmcp "github.com/ppiankov/sessionguard/internal/mcp"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP tool server for agent integration",
	Long: "Runs sessionguard as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes batch validation and the read-only snapshots as tools; account\n" +
		"administration stays on the CLI. State is persisted on shutdown and\n" +
		"after every committed batch.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if flagAccount == "" {
		return fmt.Errorf("--account is required")
	}

	srv, err := guardmcp.New(guardmcp.Config{
		AccountID:  flagAccount,
		ConfigPath: flagConfig,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "sessionguard MCP server running on stdio (account %s)\n", flagAccount)

	runErr := srv.Run(ctx)
	if cerr := srv.Close(); cerr != nil && runErr == nil {
		runErr = cerr
	}
	return runErr
}
