// Package main provides the modernizer binary: an AI-assisted
// dependency upgrade service for Node.js and Python projects.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/modernizer/llm/providers"
)

const (
	// Version and BuildTime are stamped by the build.
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "modernizer"
)

// CLI exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitInvalidArgs = 2
)

func main() {
	// Optional; real environments set variables directly.
	_ = godotenv.Load()

	cmd := rootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "AI-assisted dependency upgrade automation",
		Long: `Modernizer upgrades a project's third-party dependencies: it plans the
upgrade with a language model, validates the patched manifest in a Docker
sandbox, retries with error-guided fixes, and ships the result as a branch
plus pull request.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(migrateCmd(&configPath, &logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// usageError marks failures caused by bad invocation rather than a bad
// migration.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	if _, ok := err.(usageError); ok {
		return exitInvalidArgs
	}
	if strings.Contains(err.Error(), "unknown command") ||
		strings.Contains(err.Error(), "unknown flag") ||
		strings.Contains(err.Error(), "required flag") {
		return exitInvalidArgs
	}
	return exitError
}
