package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oracle-monitor/internal/bench"
	"oracle-monitor/internal/solana"
)

func newBenchCmd(opts *rootOptions) *cobra.Command {
	var (
		samples int
		warmup  int
		loads   []float64
		account string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure RPC node latency under background getSlot load",
		Long: `Measures getSlot, getProgramAccounts and getAccountInfo latency against
the configured RPC node, once per load level. Each load level runs getSlot in
the background at the given rate while the methods are timed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.Flags(), map[string]string{
				"solana.cluster":      "cluster",
				"solana.rpc_endpoint": "rpc",
				"solana.commitment":   "commitment",
				"solana.program_id":   "program",
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("benchmarking RPC node",
				zap.String("cluster", cfg.Solana.Cluster),
				zap.String("rpc", cfg.Solana.RPCEndpoint),
				zap.String("commitment", cfg.Solana.Commitment))

			bc := bench.DefaultConfig(cfg.Solana.ProgramID)
			bc.Samples = samples
			bc.Warmup = warmup
			bc.Loads = loads
			bc.Account = account
			bc.Logger = logger

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint, solana.WithCommitment(cfg.Solana.Commitment))
			if _, err := bench.NewRunner(rpc, bc, os.Stdout).Run(ctx); err != nil {
				logger.Error("benchmark failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	defaults := bench.DefaultConfig("")
	fs := cmd.Flags()
	fs.String("cluster", "", "cluster: mainnet-beta, devnet, testnet, pythnet")
	fs.String("rpc", "", "Solana RPC endpoint (defaults per cluster)")
	fs.String("commitment", "", "commitment: processed, confirmed, finalized")
	fs.String("program", "", "oracle program id (defaults per cluster)")
	fs.IntVar(&samples, "samples", defaults.Samples, "timed calls per method and load level")
	fs.IntVar(&warmup, "warmup", defaults.Warmup, "untimed getSlot calls before measuring")
	fs.Float64SliceVar(&loads, "loads", defaults.Loads, "background getSlot rates in requests per second")
	fs.StringVar(&account, "account", "", "account for getAccountInfo (defaults to the first program account)")
	return cmd
}
