package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// @title Clinical IAM API
// @version 1.0.0
// @description Identity, access and audit engine for clinical records
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "api-gateway",
		Short: "Clinical identity, access and audit service",
		Long: `Clinical identity, access and audit service.

Default behavior (no subcommand): serve the HTTP API

Available subcommands:
  serve         - Serve the user and admin HTTP surfaces
  purge-tokens  - Delete expired user and admin refresh tokens once and exit`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newPurgeCommand())
	return root
}
