// Package main provides the CLI entry point for the rigmate chat service.
//
// Rigmate answers PC-build questions over WebSocket, driving a streaming,
// tool-augmented LLM query per session with live progress events.
//
// # Basic Usage
//
// Start the server:
//
//	rigmate serve --config rigmate.yaml
//
// # Environment Variables
//
//   - RIGMATE_CONFIG: Path to configuration file
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - BRAVE_API_KEY: Brave Search API key (only for the brave provider)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rigmate",
		Short: "Real-time PC build assistant over WebSocket",
		Long: `Rigmate is a WebSocket chat service that answers PC build questions.
Each session drives a streaming, tool-augmented AI query with live search
and progress events pushed to the client as they happen.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("rigmate %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
