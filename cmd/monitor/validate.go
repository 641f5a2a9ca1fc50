package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oracle-monitor/internal/archive"
	"oracle-monitor/internal/domain"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <archive-dir> [publisher]",
		Short: "Replay an archive directory through the validator and print events",
		Long: `Replays a price archive: a directory of chronologically named shard
directories, each holding one <SYMBOL>.json file per symbol. Events are printed
one per line. With a publisher key only that publisher is evaluated.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.Flags(), map[string]string{})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			vc, err := cfg.ValidatorConfig()
			if err != nil {
				return err
			}
			if len(args) == 2 {
				key, err := domain.ParsePublicKey(args[1])
				if err != nil {
					return fmt.Errorf("publisher: %w", err)
				}
				vc.Publisher = &key
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sum, err := archive.NewHistory(vc, os.Stdout, logger).Run(ctx, args[0])
			if err != nil {
				logger.Error("replay failed", zap.Error(err))
				return err
			}
			fmt.Fprintf(os.Stderr, "replayed %d files, %d entries, %d events\n", sum.Files, sum.Entries, sum.Events)
			return nil
		},
	}
	return cmd
}
