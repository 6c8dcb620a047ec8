package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lpsugar/internal/api"
	"lpsugar/internal/metrics"
	"lpsugar/internal/store/memory"
	"lpsugar/internal/sugar"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve queries over HTTP",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().Float64("rate-limit", 50, "requests per second per client, 0 disables")
	cmd.Flags().Int("rate-burst", 100, "rate limiter burst")
	cmd.Flags().Duration("request-timeout", 15*time.Second, "per-request deadline")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	m := metrics.New()
	a.source = m.InstrumentSource(a.source)

	s, err := a.newSugar(sugar.WithObserver(m))
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Config{
		Listen:         a.cfg.Listen,
		RateLimit:      a.cfg.RateLimit,
		RateBurst:      a.cfg.RateBurst,
		RequestTimeout: a.cfg.RequestTimeout,
	}, s, m, a.logger)

	if a.memory != nil {
		go reloadOnHangup(ctx, a.memory, a.cfg.Fixture, a.logger)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// reloadOnHangup republishes the fixture on SIGHUP. Open snapshots keep the
// state they started with.
func reloadOnHangup(ctx context.Context, st *memory.Store, path string, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			state, err := memory.LoadJSONL(path)
			if err != nil {
				logger.Warn("fixture reload failed", zap.String("fixture", path), zap.Error(err))
				continue
			}
			st.Replace(state)
			logger.Info("fixture reloaded", zap.String("fixture", path), zap.Int("pools", len(state.Pools)))
		}
	}
}
