// Command oracle-monitor watches oracle price accounts on Solana and reports
// publishers whose quotes look stale, halted or off market.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"oracle-monitor/internal/config"
	"oracle-monitor/internal/observability"
)

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:           "oracle-monitor",
		Short:         "Monitor oracle publishers for stale and off-market quotes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: console or json")

	root.AddCommand(newRunCmd(opts), newValidateCmd(opts), newBenchCmd(opts))
	return root
}

// load binds fs into the shared viper instance and reads the configuration.
func (o *rootOptions) load(fs *pflag.FlagSet, keys map[string]string) (*config.Config, *zap.Logger, error) {
	keys["log.level"] = "log-level"
	keys["log.format"] = "log-format"
	for key, flag := range keys {
		f := fs.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := o.v.BindPFlag(key, f); err != nil {
			return nil, nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}
	return cfg, logger, nil
}
