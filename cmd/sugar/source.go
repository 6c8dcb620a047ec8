package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lpsugar/internal/chain"
	"lpsugar/internal/config"
	"lpsugar/internal/store"
	"lpsugar/internal/store/memory"
	"lpsugar/internal/store/onchain"
	"lpsugar/internal/store/postgres"
	"lpsugar/internal/sugar"
)

var _ onchain.Caller = (*chain.Client)(nil)

// app is everything a command needs once config is resolved.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	source store.Source
	// memory is set for the memory source so serve can reload the fixture.
	memory  *memory.Store
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.openSource(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openSource(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Source {
	case config.SourceMemory:
		state, err := memory.LoadJSONL(cfg.Fixture)
		if err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
		a.memory = memory.NewStore(state)
		a.source = a.memory
		a.logger.Info("memory source ready", zap.String("fixture", cfg.Fixture), zap.Int("pools", len(state.Pools)))

	case config.SourcePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if cfg.PGMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		a.source = pg
		a.logger.Info("postgres source ready", zap.Bool("migrated", cfg.PGMigrate))

	case config.SourceOnchain:
		registry, err := sugar.ParseAddress(cfg.Registry)
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
		voter, err := sugar.ParseAddress(cfg.Voter)
		if err != nil {
			return fmt.Errorf("voter: %w", err)
		}
		client, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		a.closers = append(a.closers, client.Close)

		src, err := onchain.NewStore(onchain.Config{
			Registry:     registry,
			Voter:        voter,
			GenesisEpoch: cfg.GenesisEpoch,
		}, client, a.logger)
		if err != nil {
			return err
		}
		a.source = src
		a.logger.Info("onchain source ready",
			zap.String("rpc", cfg.RPCURL),
			zap.String("chain_id", client.ChainID().String()),
			zap.String("registry", registry.Hex()),
		)

	default:
		return fmt.Errorf("unknown source %q", cfg.Source)
	}
	return nil
}

func (a *app) newSugar(opts ...sugar.Option) (*sugar.Sugar, error) {
	var deployment [3]common.Address
	for i, raw := range []string{a.cfg.Registry, a.cfg.Voter, a.cfg.Router} {
		if raw == "" {
			continue
		}
		addr, err := sugar.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("deployment address: %w", err)
		}
		deployment[i] = addr
	}

	return sugar.New(sugar.Config{
		Registry:     deployment[0],
		Voter:        deployment[1],
		Router:       deployment[2],
		MaxLimit:     a.cfg.MaxLimit,
		RetryBackoff: a.cfg.RetryBackoff,
	}, a.source, a.logger, opts...), nil
}
