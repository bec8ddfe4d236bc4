// Command rewards indexes the reward payouts of Solana distributor wallets.
//
// Usage:
//
//	rewards migrate
//	rewards init --name demo --distributor <addr> --token-mint <mint> --dev-wallet <addr>
//	rewards init --all
//	rewards update [address...] [--interval 1m]
//	rewards watch
//	rewards wallet <address>
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"solana-rewards-indexer/internal/logger"
)

type rootFlags struct {
	configPath  string
	logLevel    string
	useMemory   bool
	metricsAddr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "rewards",
		Short:         "Index reward payouts of Solana distributor wallets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to YAML config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	pf.BoolVar(&flags.useMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Prometheus metrics HTTP address (overrides config, \"-\" disables)")

	root.AddCommand(
		newMigrateCmd(flags),
		newInitCmd(flags),
		newUpdateCmd(flags),
		newWatchCmd(flags),
		newWalletCmd(flags),
	)
	return root
}
