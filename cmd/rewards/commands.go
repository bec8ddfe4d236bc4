package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"solana-rewards-indexer/internal/domain"
	"solana-rewards-indexer/internal/logger"
	"solana-rewards-indexer/internal/pipeline"
	"solana-rewards-indexer/internal/solana"
	"solana-rewards-indexer/internal/storage"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a := &app{cfg: cfg, logger: logger.L()}
			defer a.Close()
			if err := openStorage(cmd.Context(), cfg, flags.useMemory, a); err != nil {
				return err
			}
			a.logger.Info("migrations applied")
			return nil
		},
	}
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	var (
		reg domain.SupportedDistributor
		all bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap a distributor from its full transaction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()
			startMetricsServer(ctx, a.cfg.Metrics.Addr, a.logger)

			var distributors []*domain.SupportedDistributor
			if all {
				for _, d := range a.cfg.Distributors {
					distributors = append(distributors, &domain.SupportedDistributor{
						Name:      d.Name,
						Address:   d.Address,
						TokenMint: d.TokenMint,
						DevWallet: d.DevWallet,
					})
				}
				if len(distributors) == 0 {
					return errors.New("no distributors configured")
				}
			} else {
				if err := solana.ValidateAddress(reg.Address); err != nil {
					return fmt.Errorf("--distributor: %w", err)
				}
				if d, ok := a.cfg.Distributor(reg.Address); ok {
					fillRegistration(&reg, d.Name, d.TokenMint, d.DevWallet)
				}
				distributors = append(distributors, &reg)
			}

			for _, d := range distributors {
				if !solana.IsOnCurve(d.Address) {
					a.logger.Warn("distributor address is off curve (program derived)", "distributor", d.Address)
				}
			}
			return a.runner.Bootstrap(ctx, distributors)
		},
	}

	f := cmd.Flags()
	f.StringVar(&reg.Name, "name", "", "Project name")
	f.StringVar(&reg.Address, "distributor", "", "Distributor wallet address")
	f.StringVar(&reg.TokenMint, "token-mint", "", "Project token mint")
	f.StringVar(&reg.DevWallet, "dev-wallet", "", "Project developer wallet")
	f.BoolVar(&all, "all", false, "Bootstrap every distributor listed in the config")
	cmd.MarkFlagsMutuallyExclusive("all", "distributor")
	cmd.MarkFlagsOneRequired("all", "distributor")
	return cmd
}

func fillRegistration(reg *domain.SupportedDistributor, name, mint, dev string) {
	if reg.Name == "" {
		reg.Name = name
	}
	if reg.TokenMint == "" {
		reg.TokenMint = mint
	}
	if reg.DevWallet == "" {
		reg.DevWallet = dev
	}
}

func newUpdateCmd(flags *rootFlags) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "update [address...]",
		Short: "Fetch transactions newer than each distributor's last signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				if !cmd.Flags().Changed("interval") {
					interval = a.cfg.Pipeline.UpdateInterval
				}
				if interval > 0 {
					startMetricsServer(ctx, a.cfg.Metrics.Addr, a.logger)
				}
				err := a.runner.Run(ctx, interval)
				if ctx.Err() != nil {
					return nil
				}
				return err
			}

			var errs []error
			for _, addr := range args {
				res, err := a.runner.UpdateOne(ctx, addr)
				if err != nil {
					errs = append(errs, fmt.Errorf("update %s: %w", addr, err))
					continue
				}
				if res == nil {
					continue
				}
				fmt.Printf("%s: %d new transfers, %d wallets, last signature %s\n",
					addr, res.Inserted, res.Wallets, res.LastSignature)
				if res.Incomplete {
					fmt.Printf("%s: feed ended before the last signature, the next run rescans the tail\n", addr)
				}
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Repeat updates of every active distributor at this interval (0 runs once)")
	return cmd
}

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [address...]",
		Short: "Update distributors as soon as new transactions mention them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()
			startMetricsServer(ctx, a.cfg.Metrics.Addr, a.logger)

			addresses := args
			if len(addresses) == 0 {
				active, err := a.store.ListDistributors(ctx, domain.StatusActive)
				if err != nil {
					return fmt.Errorf("list distributors: %w", err)
				}
				for _, d := range active {
					addresses = append(addresses, d.Address)
				}
			}
			if len(addresses) == 0 {
				return errors.New("no active distributors to watch")
			}

			endpoint, err := wsEndpoint(a.cfg.Helius.WSURL, a.cfg.Helius.APIKey)
			if err != nil {
				return err
			}
			wsCfg := solana.DefaultWSConfig()
			wsCfg.Logger = a.logger
			client, err := solana.NewLogsClient(ctx, endpoint, &wsCfg)
			if err != nil {
				return fmt.Errorf("connect websocket: %w", err)
			}
			defer client.Close()

			if !cmd.Flags().Changed("debounce") {
				debounce = a.cfg.Pipeline.WatchDebounce
			}
			watcher := pipeline.NewWatcher(client, a.runner, debounce, a.logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				// catch up on anything missed while not watching
				if err := a.runner.Run(gctx, a.cfg.Pipeline.UpdateInterval); err != nil && gctx.Err() == nil {
					a.logger.Warn("catch-up update finished with errors", "error", err)
				}
				return nil
			})
			g.Go(func() error {
				return watcher.Watch(gctx, addresses)
			})

			a.logger.Info("watching distributors", "count", len(addresses))
			err = g.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", pipeline.DefaultDebounce, "Quiet period after a notification before updating")
	return cmd
}

type walletOutput struct {
	Wallet       string                                `json:"wallet"`
	Distributors map[string]map[string]decimal.Decimal `json:"distributors"`
}

func newWalletCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet <address>",
		Short: "Print a wallet's reward totals per distributor and token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a := &app{cfg: cfg, logger: logger.L()}
			defer a.Close()
			if err := openStorage(ctx, cfg, flags.useMemory, a); err != nil {
				return err
			}

			w, err := a.store.GetWalletRewards(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				w = &domain.WalletRewards{WalletAddress: args[0]}
			} else if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(toWalletOutput(w))
		},
	}
}

func toWalletOutput(w *domain.WalletRewards) walletOutput {
	out := walletOutput{
		Wallet:       w.WalletAddress,
		Distributors: make(map[string]map[string]decimal.Decimal, len(w.Distributors)),
	}
	for d, totals := range w.Distributors {
		tokens := make(map[string]decimal.Decimal, len(totals))
		for token, total := range totals {
			tokens[token] = total.TotalAmount
		}
		out.Distributors[d] = tokens
	}
	return out
}
