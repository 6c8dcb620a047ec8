// Package memory is an in-process entity store. State is immutable once
// published; Replace swaps in a new State atomically, and every snapshot pins
// the State that was current when it was opened.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"lpsugar/internal/model"
	"lpsugar/internal/store"
)

// State is the full content of the store.
type State struct {
	// Pools in registry order.
	Pools  []model.Pool
	Tokens map[common.Address]model.Token
	// Epochs per pool; they are ordered most recent first on publish.
	Epochs map[common.Address][]model.Epoch
	// Balances maps token -> account -> balance.
	Balances map[common.Address]map[common.Address]model.Amount
}

type published struct {
	state     State
	poolIndex map[common.Address]int
}

// Store serves snapshots of the current State.
type Store struct {
	current atomic.Pointer[published]
}

func NewStore(state State) *Store {
	s := &Store{}
	s.Replace(state)
	return s
}

// Replace publishes a new State. Open snapshots keep the previous one.
func (s *Store) Replace(state State) {
	s.current.Store(publish(state))
}

func publish(state State) *published {
	pools := make([]model.Pool, len(state.Pools))
	copy(pools, state.Pools)

	index := make(map[common.Address]int, len(pools))
	for i, pool := range pools {
		if _, ok := index[pool.Lp]; !ok {
			index[pool.Lp] = i
		}
	}

	tokens := make(map[common.Address]model.Token, len(state.Tokens))
	for addr, token := range state.Tokens {
		tokens[addr] = token
	}

	epochs := make(map[common.Address][]model.Epoch, len(state.Epochs))
	for lp, list := range state.Epochs {
		sorted := make([]model.Epoch, len(list))
		copy(sorted, list)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts > sorted[j].Ts })
		epochs[lp] = sorted
	}

	balances := make(map[common.Address]map[common.Address]model.Amount, len(state.Balances))
	for token, accounts := range state.Balances {
		inner := make(map[common.Address]model.Amount, len(accounts))
		for account, amount := range accounts {
			inner[account] = amount
		}
		balances[token] = inner
	}

	return &published{
		state: State{
			Pools:    pools,
			Tokens:   tokens,
			Epochs:   epochs,
			Balances: balances,
		},
		poolIndex: index,
	}
}

// Snapshot implements store.Source.
func (s *Store) Snapshot(ctx context.Context) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &snapshot{data: s.current.Load()}, nil
}

type snapshot struct {
	data *published
}

func (s *snapshot) PoolCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(s.data.state.Pools), nil
}

func (s *snapshot) PoolAt(ctx context.Context, i int) (model.Pool, error) {
	if err := ctx.Err(); err != nil {
		return model.Pool{}, err
	}
	pools := s.data.state.Pools
	if i < 0 || i >= len(pools) {
		return model.Pool{}, store.IndexOutOfRange("pool", i, len(pools))
	}
	return pools[i], nil
}

func (s *snapshot) Token(ctx context.Context, address common.Address) (model.Token, error) {
	if err := ctx.Err(); err != nil {
		return model.Token{}, err
	}
	token, ok := s.data.state.Tokens[address]
	if !ok {
		return model.Token{}, store.ErrNotFound
	}
	token.TokenAddress = address
	return token, nil
}

func (s *snapshot) EpochCount(ctx context.Context, lp common.Address) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, ok := s.data.poolIndex[lp]; !ok {
		return 0, store.ErrUnknownPool
	}
	return len(s.data.state.Epochs[lp]), nil
}

func (s *snapshot) EpochAt(ctx context.Context, lp common.Address, i int) (model.Epoch, error) {
	if err := ctx.Err(); err != nil {
		return model.Epoch{}, err
	}
	if _, ok := s.data.poolIndex[lp]; !ok {
		return model.Epoch{}, store.ErrUnknownPool
	}
	epochs := s.data.state.Epochs[lp]
	if i < 0 || i >= len(epochs) {
		return model.Epoch{}, store.IndexOutOfRange("epoch", i, len(epochs))
	}
	return epochs[i], nil
}

func (s *snapshot) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.data.state.Balances[token][account].Big(), nil
}

func (s *snapshot) Close() error {
	return nil
}
