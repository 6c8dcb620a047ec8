package sugar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lpsugar/internal/model"
	"lpsugar/internal/store"
)

func (s *Sugar) poolEpochs(ctx context.Context, snap store.Snapshot, p page, lp common.Address) ([]model.Epoch, error) {
	count, err := snap.EpochCount(ctx, lp)
	if err != nil {
		return nil, fmt.Errorf("epoch count %s: %w", lp.Hex(), err)
	}

	start, end := p.window(count)
	epochs := make([]model.Epoch, 0, end-start)
	for i := start; i < end; i++ {
		epoch, err := snap.EpochAt(ctx, lp, i)
		if err != nil {
			return nil, fmt.Errorf("epoch %d of %s: %w", i, lp.Hex(), err)
		}
		epochs = append(epochs, expandEpoch(lp, epoch))
	}
	return epochs, nil
}

// latestEpochs skips ungauged pools, pools whose gauge is no longer alive and
// pools without history; skipped pools do not count toward the limit.
func (s *Sugar) latestEpochs(ctx context.Context, snap store.Snapshot, p page) ([]model.Epoch, error) {
	count, err := snap.PoolCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool count: %w", err)
	}

	epochs := make([]model.Epoch, 0)
	for i := p.offset; i < count && len(epochs) < p.limit; i++ {
		pool, err := snap.PoolAt(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		if !pool.HasGauge() || !pool.GaugeAlive {
			continue
		}

		n, err := snap.EpochCount(ctx, pool.Lp)
		if err != nil {
			return nil, fmt.Errorf("epoch count %s: %w", pool.Lp.Hex(), err)
		}
		if n == 0 {
			continue
		}

		epoch, err := snap.EpochAt(ctx, pool.Lp, 0)
		if err != nil {
			return nil, fmt.Errorf("latest epoch of %s: %w", pool.Lp.Hex(), err)
		}
		epochs = append(epochs, expandEpoch(pool.Lp, epoch))
	}
	return epochs, nil
}

// expandEpoch normalizes nested rewards: slices are never nil and
// zero-amount entries are dropped.
func expandEpoch(lp common.Address, epoch model.Epoch) model.Epoch {
	if epoch.Lp == (common.Address{}) {
		epoch.Lp = lp
	}
	epoch.Bribes = positiveRewards(epoch.Bribes)
	epoch.Fees = positiveRewards(epoch.Fees)
	return epoch
}

func positiveRewards(rewards []model.Reward) []model.Reward {
	out := make([]model.Reward, 0, len(rewards))
	for _, reward := range rewards {
		if reward.Amount.Sign() <= 0 {
			continue
		}
		out = append(out, reward)
	}
	return out
}

// tokenRecord loads token metadata. A token the store has no metadata for is
// returned with its address only so traversal order stays structural.
func (s *Sugar) tokenRecord(ctx context.Context, snap store.Snapshot, addr common.Address, account OptionalAddress) (model.Token, error) {
	token, err := snap.Token(ctx, addr)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		s.logger.Warn("token metadata missing", zap.String("token", addr.Hex()))
		token = model.Token{}
	default:
		return model.Token{}, fmt.Errorf("token %s: %w", addr.Hex(), err)
	}
	token.TokenAddress = addr

	holder, ok := account.Get()
	if !ok {
		return token, nil
	}
	reader, ok := snap.(store.BalanceReader)
	if !ok {
		return token, nil
	}
	balance, err := reader.BalanceOf(ctx, addr, holder)
	if err != nil {
		return model.Token{}, fmt.Errorf("balance of %s for %s: %w", addr.Hex(), holder.Hex(), err)
	}
	token.AccountBalance = model.NewAmount(balance)
	return token, nil
}

func (s *Sugar) observe(op string, start time.Time, errp *error) {
	elapsed := time.Since(start)
	var err error
	if errp != nil {
		err = *errp
	}
	if s.observer != nil {
		s.observer.ObserveQuery(op, elapsed, err)
	}
	if err != nil {
		s.logger.Debug("query failed", zap.String("op", op), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	s.logger.Debug("query complete", zap.String("op", op), zap.Duration("elapsed", elapsed))
}
