package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ariyn/relalg/internal/log"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "relalg [command]",
	Short: "distributed relational algebra engine",
	Long: `
Computes relational-algebra expressions (intersect, union, difference and
Cartesian product) by splitting them into tasks executed by workers behind a
message broker.
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every task")
	rootCmd.AddCommand(managerCmd, workerCmd, submitCmd, historyCmd)
}

// setup loads the configuration and applies its logging settings.
func setup() (Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return Config{}, err
	}
	log.SetVerbose(verbose || cfg.Log.Verbose)
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
