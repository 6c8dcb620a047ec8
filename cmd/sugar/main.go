package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sugar",
		Short:        "Liquidity pool read-model query engine",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("source", "memory", "entity store (memory, postgres, onchain)")
	flags.String("fixture", "./data/fixture.jsonl", "JSONL fixture for the memory source")
	flags.String("pg-dsn", "", "Postgres DSN for the postgres source")
	flags.Bool("pg-migrate", false, "apply the read-model schema on start")
	flags.String("rpc", "", "RPC URL for the onchain source")
	flags.String("registry", "", "pool factory registry address")
	flags.String("voter", "", "voter address")
	flags.String("router", "", "router address")
	flags.Uint64("genesis-epoch", 0, "first voting epoch start (unix seconds)")
	flags.Int("max-limit", 1000, "maximum page size")
	flags.Duration("retry-backoff", 200*time.Millisecond, "delay before retrying an unavailable store")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newQueryCmds()...)

	return root
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
