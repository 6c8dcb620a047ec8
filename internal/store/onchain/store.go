// Package onchain reads pools, tokens and epochs straight from the pool
// factory, voter, gauge and reward contracts. Every call made through one
// snapshot is executed against the block that was latest when the snapshot
// was opened.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"lpsugar/internal/model"
	"lpsugar/internal/store"
)

// Week is the epoch length in seconds.
const Week = 7 * 24 * 60 * 60

// Caller is the subset of the chain client the store needs.
type Caller interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config identifies the deployment.
type Config struct {
	Registry common.Address
	Voter    common.Address
	// GenesisEpoch is the start of the first voting epoch (unix seconds).
	// Zero exposes only the current epoch.
	GenesisEpoch uint64
}

// Store opens block-pinned snapshots over the contracts.
type Store struct {
	cfg    Config
	caller Caller
	abis   ABIs
	tokens *TokenMetaCache
	logger *zap.Logger
}

func NewStore(cfg Config, caller Caller, logger *zap.Logger) (*Store, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if cfg.Registry == (common.Address{}) {
		return nil, fmt.Errorf("registry address is required")
	}
	if cfg.Voter == (common.Address{}) {
		return nil, fmt.Errorf("voter address is required")
	}
	abis, err := ContractABIs()
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:    cfg,
		caller: caller,
		abis:   abis,
		tokens: NewTokenMetaCache(),
		logger: logger,
	}, nil
}

// Snapshot pins the latest block.
func (s *Store) Snapshot(ctx context.Context) (store.Snapshot, error) {
	header, err := s.caller.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, store.Unavailable("latest header", err)
	}
	if header == nil || header.Number == nil {
		return nil, fmt.Errorf("%w: latest header missing", store.ErrUnavailable)
	}

	s.logger.Debug("snapshot opened", zap.Uint64("block", header.Number.Uint64()), zap.Uint64("time", header.Time))

	return &snapshot{
		store:      s,
		block:      new(big.Int).Set(header.Number),
		epochStart: header.Time / Week * Week,
		poolCount:  -1,
		pools:      make(map[int]model.Pool),
		registered: make(map[common.Address]bool),
		gauges:     make(map[common.Address]gaugeInfo),
	}, nil
}

type gaugeInfo struct {
	gauge common.Address
	fees  common.Address
	bribe common.Address
	alive bool
}

// snapshot memoizes reads for its own lifetime only.
type snapshot struct {
	store      *Store
	block      *big.Int
	epochStart uint64

	mu         sync.Mutex
	poolCount  int
	pools      map[int]model.Pool
	registered map[common.Address]bool
	gauges     map[common.Address]gaugeInfo
}

func (s *snapshot) Close() error {
	return nil
}

func (s *snapshot) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := s.store.caller.CallContract(ctx, msg, s.block)
	if err != nil {
		var revert rpc.DataError
		if errors.As(err, &revert) {
			return nil, fmt.Errorf("call %s on %s reverted: %w", method, to.Hex(), err)
		}
		return nil, store.Unavailable(fmt.Sprintf("call %s on %s", method, to.Hex()), err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errUndecodable, method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s: empty result", errUndecodable, method)
	}
	return values, nil
}

// errUndecodable marks a call whose return data does not match the ABI.
var errUndecodable = errors.New("undecodable result")

// defaultable reports whether a failed call means the contract does not
// implement the method, as opposed to the read itself failing.
func defaultable(err error) bool {
	var revert rpc.DataError
	return errors.As(err, &revert) || errors.Is(err, errUndecodable)
}

// optional calls a method the contract may not implement. ok is false when
// the call reverted or returned undecodable data; any other failure is
// returned as is.
func (s *snapshot) optional(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, bool, error) {
	values, err := s.call(ctx, to, parsed, method, args...)
	switch {
	case err == nil:
		return values, true, nil
	case defaultable(err):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (s *snapshot) callAddress(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) (common.Address, error) {
	values, err := s.call(ctx, to, parsed, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", method, err)
	}
	return addr, nil
}

func (s *snapshot) callBig(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	values, err := s.call(ctx, to, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	v, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func (s *snapshot) optionalAmount(ctx context.Context, to common.Address, parsed abi.ABI, method string) (model.Amount, error) {
	values, ok, err := s.optional(ctx, to, parsed, method)
	if err != nil || !ok {
		return model.Amount{}, err
	}
	v, err := asBigInt(values[0])
	if err != nil {
		return model.Amount{}, nil
	}
	return model.NewAmount(v), nil
}

func (s *snapshot) callBool(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) (bool, error) {
	values, err := s.call(ctx, to, parsed, method, args...)
	if err != nil {
		return false, err
	}
	v, err := asBool(values[0])
	if err != nil {
		return false, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func (s *snapshot) PoolCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poolCountLocked(ctx)
}

func (s *snapshot) poolCountLocked(ctx context.Context) (int, error) {
	if s.poolCount >= 0 {
		return s.poolCount, nil
	}
	values, err := s.call(ctx, s.store.cfg.Registry, s.store.abis.Factory, "allPoolsLength")
	if err != nil {
		return 0, err
	}
	count, err := asInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("allPoolsLength: %w", err)
	}
	s.poolCount = count
	return count, nil
}

func (s *snapshot) PoolAt(ctx context.Context, i int) (model.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pool, ok := s.pools[i]; ok {
		return pool, nil
	}
	count, err := s.poolCountLocked(ctx)
	if err != nil {
		return model.Pool{}, err
	}
	if i < 0 || i >= count {
		return model.Pool{}, store.IndexOutOfRange("pool", i, count)
	}

	lp, err := s.callAddress(ctx, s.store.cfg.Registry, s.store.abis.Factory, "allPools", big.NewInt(int64(i)))
	if err != nil {
		return model.Pool{}, err
	}
	pool, err := s.fetchPool(ctx, lp)
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool %s: %w", lp.Hex(), err)
	}
	s.pools[i] = pool
	s.registered[lp] = true
	return pool, nil
}

func (s *snapshot) fetchPool(ctx context.Context, lp common.Address) (model.Pool, error) {
	poolABI := s.store.abis.Pool

	token0, err := s.callAddress(ctx, lp, poolABI, "token0")
	if err != nil {
		return model.Pool{}, err
	}
	token1, err := s.callAddress(ctx, lp, poolABI, "token1")
	if err != nil {
		return model.Pool{}, err
	}
	stable, err := s.callBool(ctx, lp, poolABI, "stable")
	if err != nil {
		return model.Pool{}, err
	}
	liquidity, err := s.callBig(ctx, lp, poolABI, "totalSupply")
	if err != nil {
		return model.Pool{}, err
	}

	reserves, err := s.call(ctx, lp, poolABI, "getReserves")
	if err != nil {
		return model.Pool{}, err
	}
	if len(reserves) < 2 {
		return model.Pool{}, fmt.Errorf("getReserves: short result")
	}
	reserve0, err := asBigInt(reserves[0])
	if err != nil {
		return model.Pool{}, fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := asBigInt(reserves[1])
	if err != nil {
		return model.Pool{}, fmt.Errorf("reserve1: %w", err)
	}

	pool := model.Pool{
		Lp:        lp,
		Liquidity: model.NewAmount(liquidity),
		Type:      model.PoolTypeVolatile,
		Token0:    token0,
		Reserve0:  model.NewAmount(reserve0),
		Token1:    token1,
		Reserve1:  model.NewAmount(reserve1),
		Factory:   s.store.cfg.Registry,
	}
	if stable {
		pool.Type = model.PoolTypeStable
	}

	values, ok, err := s.optional(ctx, lp, poolABI, "symbol")
	if err != nil {
		return model.Pool{}, err
	}
	if ok {
		if symbol, isString := values[0].(string); isString {
			pool.Symbol = symbol
		}
	}
	values, ok, err = s.optional(ctx, lp, poolABI, "decimals")
	if err != nil {
		return model.Pool{}, err
	}
	if ok {
		if decimals, err := asUint8(values[0]); err == nil {
			pool.Decimals = decimals
		}
	}

	fee, err := s.callBig(ctx, s.store.cfg.Registry, s.store.abis.Factory, "getFee", lp, stable)
	if err != nil {
		return model.Pool{}, err
	}
	pool.PoolFee = fee.Uint64()

	info, err := s.gaugeLocked(ctx, lp)
	if err != nil {
		return model.Pool{}, err
	}
	if info.gauge == (common.Address{}) {
		return pool, nil
	}

	gaugeABI := s.store.abis.Gauge
	pool.Gauge = info.gauge
	pool.GaugeAlive = info.alive
	pool.Fee = info.fees
	pool.Bribe = info.bribe

	gaugeLiquidity, err := s.callBig(ctx, info.gauge, gaugeABI, "totalSupply")
	if err != nil {
		return model.Pool{}, err
	}
	pool.GaugeLiquidity = model.NewAmount(gaugeLiquidity)

	rewardRate, err := s.callBig(ctx, info.gauge, gaugeABI, "rewardRate")
	if err != nil {
		return model.Pool{}, err
	}
	pool.Emissions = model.NewAmount(rewardRate)

	if pool.EmissionsToken, err = s.callAddress(ctx, info.gauge, gaugeABI, "rewardToken"); err != nil {
		return model.Pool{}, err
	}

	if pool.Token0Fees, err = s.optionalAmount(ctx, info.gauge, gaugeABI, "fees0"); err != nil {
		return model.Pool{}, err
	}
	if pool.Token1Fees, err = s.optionalAmount(ctx, info.gauge, gaugeABI, "fees1"); err != nil {
		return model.Pool{}, err
	}

	if liquidity.Sign() > 0 {
		pool.Staked0 = model.NewAmount(stakedShare(reserve0, gaugeLiquidity, liquidity))
		pool.Staked1 = model.NewAmount(stakedShare(reserve1, gaugeLiquidity, liquidity))
	}

	return pool, nil
}

// stakedShare is reserve * staked / supply.
func stakedShare(reserve, staked, supply *big.Int) *big.Int {
	out := new(big.Int).Mul(reserve, staked)
	return out.Quo(out, supply)
}

func (s *snapshot) gaugeLocked(ctx context.Context, lp common.Address) (gaugeInfo, error) {
	if info, ok := s.gauges[lp]; ok {
		return info, nil
	}

	voter := s.store.cfg.Voter
	voterABI := s.store.abis.Voter

	gauge, err := s.callAddress(ctx, voter, voterABI, "gauges", lp)
	if err != nil {
		return gaugeInfo{}, err
	}
	info := gaugeInfo{gauge: gauge}
	if gauge != (common.Address{}) {
		if info.alive, err = s.callBool(ctx, voter, voterABI, "isAlive", gauge); err != nil {
			return gaugeInfo{}, err
		}
		if info.fees, err = s.callAddress(ctx, voter, voterABI, "gaugeToFees", gauge); err != nil {
			return gaugeInfo{}, err
		}
		if info.bribe, err = s.callAddress(ctx, voter, voterABI, "gaugeToBribe", gauge); err != nil {
			return gaugeInfo{}, err
		}
	}
	s.gauges[lp] = info
	return info, nil
}

func (s *snapshot) ensureRegisteredLocked(ctx context.Context, lp common.Address) error {
	known, ok := s.registered[lp]
	if !ok {
		var err error
		known, err = s.callBool(ctx, s.store.cfg.Registry, s.store.abis.Factory, "isPool", lp)
		if err != nil {
			return err
		}
		s.registered[lp] = known
	}
	if !known {
		return fmt.Errorf("%w: %s", store.ErrUnknownPool, lp.Hex())
	}
	return nil
}

func (s *snapshot) epochCountLocked(ctx context.Context, lp common.Address) (int, gaugeInfo, error) {
	if err := s.ensureRegisteredLocked(ctx, lp); err != nil {
		return 0, gaugeInfo{}, err
	}
	info, err := s.gaugeLocked(ctx, lp)
	if err != nil {
		return 0, gaugeInfo{}, err
	}
	if info.gauge == (common.Address{}) {
		return 0, info, nil
	}

	genesis := s.store.cfg.GenesisEpoch / Week * Week
	if genesis == 0 || genesis > s.epochStart {
		return 1, info, nil
	}
	return int((s.epochStart-genesis)/Week) + 1, info, nil
}

func (s *snapshot) EpochCount(ctx context.Context, lp common.Address) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, _, err := s.epochCountLocked(ctx, lp)
	return count, err
}

func (s *snapshot) EpochAt(ctx context.Context, lp common.Address, i int) (model.Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, info, err := s.epochCountLocked(ctx, lp)
	if err != nil {
		return model.Epoch{}, err
	}
	if i < 0 || i >= count {
		return model.Epoch{}, store.IndexOutOfRange("epoch", i, count)
	}

	ts := s.epochStart - uint64(i)*Week
	epochTs := new(big.Int).SetUint64(ts)

	epoch := model.Epoch{Ts: ts, Lp: lp}

	rate, err := s.callBig(ctx, info.gauge, s.store.abis.Gauge, "rewardRateByEpoch", epochTs)
	if err != nil {
		return model.Epoch{}, err
	}
	epoch.Emissions = model.NewAmount(rate.Mul(rate, big.NewInt(Week)))

	if info.bribe != (common.Address{}) {
		votes, err := s.votesAt(ctx, info.bribe, ts)
		if err != nil {
			return model.Epoch{}, err
		}
		epoch.Votes = model.NewAmount(votes)
	}

	if epoch.Bribes, err = s.rewardsAt(ctx, info.bribe, epochTs); err != nil {
		return model.Epoch{}, fmt.Errorf("bribes: %w", err)
	}
	if epoch.Fees, err = s.rewardsAt(ctx, info.fees, epochTs); err != nil {
		return model.Epoch{}, fmt.Errorf("fees: %w", err)
	}
	return epoch, nil
}

// votesAt reads the vote supply checkpointed before the end of the epoch.
func (s *snapshot) votesAt(ctx context.Context, reward common.Address, ts uint64) (*big.Int, error) {
	rewardABI := s.store.abis.Reward
	end := new(big.Int).SetUint64(ts + Week - 1)

	idx, err := s.callBig(ctx, reward, rewardABI, "getPriorSupplyIndex", end)
	if err != nil {
		return nil, err
	}
	values, err := s.call(ctx, reward, rewardABI, "supplyCheckpoints", idx)
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("supplyCheckpoints: short result")
	}
	checkpointTs, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("supplyCheckpoints timestamp: %w", err)
	}
	if checkpointTs.Cmp(end) > 0 {
		return big.NewInt(0), nil
	}
	return asBigInt(values[1])
}

func (s *snapshot) rewardsAt(ctx context.Context, reward common.Address, epochTs *big.Int) ([]model.Reward, error) {
	rewards := make([]model.Reward, 0)
	if reward == (common.Address{}) {
		return rewards, nil
	}

	rewardABI := s.store.abis.Reward
	n, err := s.callBig(ctx, reward, rewardABI, "rewardsListLength")
	if err != nil {
		return nil, err
	}
	if !n.IsInt64() {
		return nil, fmt.Errorf("rewardsListLength out of range: %s", n)
	}

	for j := int64(0); j < n.Int64(); j++ {
		token, err := s.callAddress(ctx, reward, rewardABI, "rewards", big.NewInt(j))
		if err != nil {
			return nil, err
		}
		amount, err := s.callBig(ctx, reward, rewardABI, "tokenRewardsPerEpoch", token, epochTs)
		if err != nil {
			return nil, err
		}
		if amount.Sign() <= 0 {
			continue
		}
		rewards = append(rewards, model.Reward{Token: token, Amount: model.NewAmount(amount)})
	}
	return rewards, nil
}

func (s *snapshot) Token(ctx context.Context, address common.Address) (model.Token, error) {
	meta, err := s.tokenMeta(ctx, address)
	if err != nil {
		return model.Token{}, err
	}
	listed, err := s.callBool(ctx, s.store.cfg.Voter, s.store.abis.Voter, "isWhitelistedToken", address)
	if err != nil {
		return model.Token{}, err
	}
	return model.Token{
		TokenAddress: address,
		Symbol:       meta.Symbol,
		Decimals:     meta.Decimals,
		Listed:       listed,
	}, nil
}

func (s *snapshot) tokenMeta(ctx context.Context, token common.Address) (tokenMeta, error) {
	if meta, ok := s.store.tokens.Get(token); ok {
		return meta, nil
	}

	values, err := s.call(ctx, token, s.store.abis.ERC20, "decimals")
	if err != nil {
		if !defaultable(err) {
			return tokenMeta{}, err
		}
		return tokenMeta{}, fmt.Errorf("%w: token %s: %w", store.ErrNotFound, token.Hex(), err)
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return tokenMeta{}, err
	}
	meta := tokenMeta{Decimals: decimals}

	symbol, err := s.tokenSymbol(ctx, token)
	if err != nil {
		return tokenMeta{}, err
	}
	meta.Symbol = symbol

	s.store.tokens.Set(token, meta)
	return meta, nil
}

// tokenSymbol reads symbol() as a string, then as bytes32 for older tokens.
// A token implementing neither has an empty symbol.
func (s *snapshot) tokenSymbol(ctx context.Context, token common.Address) (string, error) {
	values, ok, err := s.optional(ctx, token, s.store.abis.ERC20, "symbol")
	if err != nil {
		return "", err
	}
	if ok {
		if symbol, isString := values[0].(string); isString {
			return symbol, nil
		}
	}
	values, ok, err = s.optional(ctx, token, s.store.abis.ERC20Bytes32, "symbol")
	if err != nil {
		return "", err
	}
	if ok {
		if symbol, decoded := bytes32ToString(values[0]); decoded {
			return symbol, nil
		}
	}
	s.store.logger.Debug("token has no symbol", zap.String("token", token.Hex()))
	return "", nil
}

// BalanceOf implements store.BalanceReader.
func (s *snapshot) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	return s.callBig(ctx, token, s.store.abis.ERC20, "balanceOf", account)
}
