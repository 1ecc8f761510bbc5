package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"aegis/internal/logging"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:   "aegis",
		Short: "Safety gate for agent tool-call batches",
		Long: "aegis classifies proposed tool-call batches, resolves approval decisions,\n" +
			"executes approved batches under a filesystem transaction, and manages\n" +
			"external tool servers.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Configure(logging.Config{Level: rootFlags.logLevel})
		},
	}
	root.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "config file path (default ~/"+configFileHint+")")
	root.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newCheckCmd())
	root.AddCommand(newGateCmd())
	root.AddCommand(newServersCmd())
	root.AddCommand(newHistoryCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}
