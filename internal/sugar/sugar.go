// Package sugar implements the read-only query facade over a pool store:
// indexed and paginated pool listings, a swap routing view, token traversal
// and per-pool epoch history with nested bribes and fees.
package sugar

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lpsugar/internal/model"
	"lpsugar/internal/store"
)

const (
	defaultMaxLimit     = 1000
	defaultRetryBackoff = 200 * time.Millisecond
	upstreamRetries     = 1
)

// Config holds the deployment identifiers and query limits.
type Config struct {
	Registry     common.Address
	Voter        common.Address
	Router       common.Address
	MaxLimit     int
	RetryBackoff time.Duration
}

// Observer receives one observation per completed query.
type Observer interface {
	ObserveQuery(op string, elapsed time.Duration, err error)
}

// Sugar serves queries. It holds no mutable state and is safe for concurrent use.
type Sugar struct {
	cfg      Config
	source   store.Source
	logger   *zap.Logger
	observer Observer
}

// Option customizes a Sugar.
type Option func(*Sugar)

// WithObserver attaches a query observer.
func WithObserver(o Observer) Option {
	return func(s *Sugar) {
		s.observer = o
	}
}

// New builds a Sugar over source. A nil logger discards output; zero MaxLimit
// and RetryBackoff take their defaults.
func New(cfg Config, source store.Source, logger *zap.Logger, opts ...Option) *Sugar {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaultMaxLimit
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	s := &Sugar{
		cfg:    cfg,
		source: source,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the pool factory address of the deployment.
func (s *Sugar) Registry() common.Address { return s.cfg.Registry }

// Voter returns the voter contract address of the deployment.
func (s *Sugar) Voter() common.Address { return s.cfg.Voter }

// Router returns the swap router address of the deployment.
func (s *Sugar) Router() common.Address { return s.cfg.Router }

// ByIndex returns the i-th pool among those matching tokenFilter.
func (s *Sugar) ByIndex(ctx context.Context, index int, tokenFilter OptionalAddress) (pool model.Pool, err error) {
	defer s.observe("by_index", time.Now(), &err)

	if index < 0 {
		return model.Pool{}, invalidArgument("index must be >= 0, got %d", index)
	}
	p := page{limit: 1, offset: index}

	err = s.read(ctx, "by_index", func(ctx context.Context, snap store.Snapshot) error {
		pools, err := s.listPools(ctx, snap, p, tokenFilter)
		if err != nil {
			return err
		}
		if len(pools) == 0 {
			return fmt.Errorf("%w: pool index %d (filter %s)", ErrNotFound, index, tokenFilter)
		}
		pool = pools[0]
		return nil
	})
	if err != nil {
		return model.Pool{}, err
	}
	return pool, nil
}

// All lists pools in registry order.
func (s *Sugar) All(ctx context.Context, limit, offset int, tokenFilter OptionalAddress) (pools []model.Pool, err error) {
	defer s.observe("all", time.Now(), &err)

	p, err := s.newPage(limit, offset)
	if err != nil {
		return nil, err
	}

	err = s.read(ctx, "all", func(ctx context.Context, snap store.Snapshot) error {
		var err error
		pools, err = s.listPools(ctx, snap, p, tokenFilter)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pools, nil
}

// ForSwaps lists the routing view of pools in the same order as All.
func (s *Sugar) ForSwaps(ctx context.Context, limit, offset int) (swaps []model.SwapPool, err error) {
	defer s.observe("for_swaps", time.Now(), &err)

	p, err := s.newPage(limit, offset)
	if err != nil {
		return nil, err
	}

	err = s.read(ctx, "for_swaps", func(ctx context.Context, snap store.Snapshot) error {
		pools, err := s.listPools(ctx, snap, p, NoAddress())
		if err != nil {
			return err
		}
		swaps = make([]model.SwapPool, 0, len(pools))
		for _, pool := range pools {
			swaps = append(swaps, pool.Swap())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swaps, nil
}

// Tokens walks pools in registry order emitting token0 then token1, keeping
// the first occurrence of each token and dropping ignored ones. The page is
// taken over that flattened sequence. A present account only fills
// AccountBalance.
func (s *Sugar) Tokens(ctx context.Context, limit, offset int, account OptionalAddress, ignore AddressSet) (tokens []model.Token, err error) {
	defer s.observe("tokens", time.Now(), &err)

	p, err := s.newPage(limit, offset)
	if err != nil {
		return nil, err
	}

	err = s.read(ctx, "tokens", func(ctx context.Context, snap store.Snapshot) error {
		var err error
		tokens, err = s.listTokens(ctx, snap, p, account, ignore)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// EpochsByAddress returns the epochs of lp, most recent first.
func (s *Sugar) EpochsByAddress(ctx context.Context, limit, offset int, lp common.Address) (epochs []model.Epoch, err error) {
	defer s.observe("epochs_by_address", time.Now(), &err)

	p, err := s.newPage(limit, offset)
	if err != nil {
		return nil, err
	}

	err = s.read(ctx, "epochs_by_address", func(ctx context.Context, snap store.Snapshot) error {
		var err error
		epochs, err = s.poolEpochs(ctx, snap, p, lp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return epochs, nil
}

// EpochsLatest returns the most recent epoch of each gauged pool, walking
// pools in registry order from offset.
func (s *Sugar) EpochsLatest(ctx context.Context, limit, offset int) (epochs []model.Epoch, err error) {
	defer s.observe("epochs_latest", time.Now(), &err)

	p, err := s.newPage(limit, offset)
	if err != nil {
		return nil, err
	}

	err = s.read(ctx, "epochs_latest", func(ctx context.Context, snap store.Snapshot) error {
		var err error
		epochs, err = s.latestEpochs(ctx, snap, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return epochs, nil
}

// read runs fn against a fresh snapshot, retrying once when the store is
// unavailable. Each attempt uses its own snapshot.
func (s *Sugar) read(ctx context.Context, op string, fn func(context.Context, store.Snapshot) error) error {
	if s.source == nil {
		return fmt.Errorf("%w: store source is nil", ErrUpstreamUnavailable)
	}

	attempt := 0
	return withRetry(ctx, upstreamRetries, s.cfg.RetryBackoff, retryable, func(ctx context.Context) error {
		attempt++
		err := s.readOnce(ctx, fn)
		if err != nil && retryable(err) {
			s.logger.Warn("store read failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

func (s *Sugar) readOnce(ctx context.Context, fn func(context.Context, store.Snapshot) error) (err error) {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return mapStoreError(fmt.Errorf("open snapshot: %w", err))
	}
	defer func() {
		if closeErr := snap.Close(); closeErr != nil && err == nil {
			s.logger.Debug("close snapshot", zap.Error(closeErr))
		}
	}()

	return mapStoreError(fn(ctx, snap))
}

func (s *Sugar) listPools(ctx context.Context, snap store.Snapshot, p page, filter OptionalAddress) ([]model.Pool, error) {
	count, err := snap.PoolCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool count: %w", err)
	}

	if !filter.IsSet() {
		start, end := p.window(count)
		pools := make([]model.Pool, 0, end-start)
		for i := start; i < end; i++ {
			pool, err := snap.PoolAt(ctx, i)
			if err != nil {
				return nil, fmt.Errorf("pool %d: %w", i, err)
			}
			pools = append(pools, pool)
		}
		return pools, nil
	}

	pools := make([]model.Pool, 0)
	matched := 0
	for i := 0; i < count && len(pools) < p.limit; i++ {
		pool, err := snap.PoolAt(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		if !filter.matchesPool(pool) {
			continue
		}
		if matched >= p.offset {
			pools = append(pools, pool)
		}
		matched++
	}
	return pools, nil
}

func (s *Sugar) listTokens(ctx context.Context, snap store.Snapshot, p page, account OptionalAddress, ignore AddressSet) ([]model.Token, error) {
	count, err := snap.PoolCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool count: %w", err)
	}

	tokens := make([]model.Token, 0)
	seen := make(map[common.Address]struct{})
	skipped := 0
	for i := 0; i < count && len(tokens) < p.limit; i++ {
		pool, err := snap.PoolAt(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}

		for _, addr := range [2]common.Address{pool.Token0, pool.Token1} {
			if len(tokens) >= p.limit {
				break
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			if ignore.Contains(addr) {
				continue
			}
			if skipped < p.offset {
				skipped++
				continue
			}

			token, err := s.tokenRecord(ctx, snap, addr, account)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}
