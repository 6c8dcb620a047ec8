package model

import "github.com/ethereum/go-ethereum/common"

// Pool types. Concentrated pools carry their tick spacing (> 0) instead.
const (
	PoolTypeStable   int32 = -1
	PoolTypeVolatile int32 = 0
)

// Pool is the full liquidity pool record. Field order is part of the
// positional encoding consumed by clients and must not change.
type Pool struct {
	Lp             common.Address `json:"lp"`
	Symbol         string         `json:"symbol"`
	Decimals       uint8          `json:"decimals"`
	Liquidity      Amount         `json:"liquidity"`
	Type           int32          `json:"type"`
	Tick           int32          `json:"tick"`
	SqrtRatio      Amount         `json:"sqrt_ratio"`
	Token0         common.Address `json:"token0"`
	Reserve0       Amount         `json:"reserve0"`
	Staked0        Amount         `json:"staked0"`
	Token1         common.Address `json:"token1"`
	Reserve1       Amount         `json:"reserve1"`
	Staked1        Amount         `json:"staked1"`
	Gauge          common.Address `json:"gauge"`
	GaugeLiquidity Amount         `json:"gauge_liquidity"`
	GaugeAlive     bool           `json:"gauge_alive"`
	Fee            common.Address `json:"fee"`
	Bribe          common.Address `json:"bribe"`
	Factory        common.Address `json:"factory"`
	Emissions      Amount         `json:"emissions"`
	EmissionsToken common.Address `json:"emissions_token"`
	PoolFee        uint64         `json:"pool_fee"`
	UnstakedFee    uint64         `json:"unstaked_fee"`
	Token0Fees     Amount         `json:"token0_fees"`
	Token1Fees     Amount         `json:"token1_fees"`
	Nfpm           common.Address `json:"nfpm"`
	Alm            common.Address `json:"alm"`
	Root           common.Address `json:"root"`
}

// HasGauge reports whether an incentive gauge is attached.
func (p Pool) HasGauge() bool {
	return p.Gauge != (common.Address{})
}

// HasToken reports whether token is one of the pool's two tokens.
func (p Pool) HasToken(token common.Address) bool {
	return p.Token0 == token || p.Token1 == token
}

// Swap returns the reduced routing view of the pool.
func (p Pool) Swap() SwapPool {
	return SwapPool{
		Lp:      p.Lp,
		Type:    p.Type,
		Token0:  p.Token0,
		Token1:  p.Token1,
		Factory: p.Factory,
		PoolFee: p.PoolFee,
	}
}

// SwapPool is the subset of Pool needed for swap routing.
type SwapPool struct {
	Lp      common.Address `json:"lp"`
	Type    int32          `json:"type"`
	Token0  common.Address `json:"token0"`
	Token1  common.Address `json:"token1"`
	Factory common.Address `json:"factory"`
	PoolFee uint64         `json:"pool_fee"`
}
