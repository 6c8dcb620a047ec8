package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpsugar/internal/model"
	"lpsugar/internal/store"
)

func samplePoolRow() poolRow {
	return poolRow{
		Lp:             "0x0000000000000000000000000000000000000a01",
		Symbol:         "vAMM-WETH/USDC",
		Decimals:       18,
		Liquidity:      "123456789012345678901234567890",
		Type:           -1,
		SqrtRatio:      "0",
		Token0:         "0x0000000000000000000000000000000000000b01",
		Reserve0:       "1000",
		Staked0:        "400",
		Token1:         "0x0000000000000000000000000000000000000b02",
		Reserve1:       "3000",
		Staked1:        "1200",
		Gauge:          "0x0000000000000000000000000000000000000c01",
		GaugeLiquidity: "40",
		GaugeAlive:     true,
		Emissions:      "7",
		EmissionsToken: "0x0000000000000000000000000000000000000b03",
		PoolFee:        5,
		Token0Fees:     "",
		Token1Fees:     "12",
	}
}

func TestPoolRowMapping(t *testing.T) {
	pool, err := samplePoolRow().pool()
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress("0xa01"), pool.Lp)
	assert.Equal(t, model.PoolTypeStable, pool.Type)
	assert.Equal(t, uint8(18), pool.Decimals)
	assert.Equal(t, "123456789012345678901234567890", pool.Liquidity.String())
	assert.True(t, pool.GaugeAlive)
	assert.Equal(t, uint64(5), pool.PoolFee)
	assert.True(t, pool.Token0Fees.IsZero())
	assert.Equal(t, common.Address{}, pool.Fee)
	assert.Equal(t, common.Address{}, pool.Root)
}

func TestPoolRowRejectsBadColumns(t *testing.T) {
	cases := map[string]func(r *poolRow){
		"address":  func(r *poolRow) { r.Token0 = "not-an-address" },
		"amount":   func(r *poolRow) { r.Reserve1 = "-5" },
		"decimals": func(r *poolRow) { r.Decimals = 300 },
		"fee":      func(r *poolRow) { r.PoolFee = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			row := samplePoolRow()
			mutate(&row)
			_, err := row.pool()
			require.Error(t, err)
		})
	}
}

func TestPoolRowDestMatchesColumns(t *testing.T) {
	var row poolRow
	assert.Len(t, row.dest(), len(strings.Split(poolColumns, ",")))
}

func TestSplitRewardsKeepsOrder(t *testing.T) {
	bribes, fees, err := splitRewards([]rewardRow{
		{Kind: kindBribe, Token: "0x0000000000000000000000000000000000000b01", Amount: "5"},
		{Kind: kindBribe, Token: "0x0000000000000000000000000000000000000b02", Amount: "6"},
		{Kind: kindFee, Token: "0x0000000000000000000000000000000000000b03", Amount: "7"},
	})
	require.NoError(t, err)
	require.Len(t, bribes, 2)
	require.Len(t, fees, 1)
	assert.Equal(t, common.HexToAddress("0xb01"), bribes[0].Token)
	assert.Equal(t, common.HexToAddress("0xb02"), bribes[1].Token)
	assert.Equal(t, "7", fees[0].Amount.String())
}

func TestSplitRewardsEmptyIsNonNil(t *testing.T) {
	bribes, fees, err := splitRewards(nil)
	require.NoError(t, err)
	assert.NotNil(t, bribes)
	assert.NotNil(t, fees)
}

func TestSplitRewardsUnknownKind(t *testing.T) {
	_, _, err := splitRewards([]rewardRow{{Kind: "vote", Token: "0x0000000000000000000000000000000000000b01", Amount: "1"}})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify("op", nil))

	err := classify("read pool", errors.New("connection reset by peer"))
	assert.ErrorIs(t, err, store.ErrUnavailable)

	err = classify("read pool", &pgconn.PgError{Code: "42P01", Message: "relation \"pools\" does not exist"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrUnavailable))

	err = classify("read pool", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, store.ErrUnavailable))
}

func TestAddressParamIsLowercase(t *testing.T) {
	addr := common.HexToAddress("0xABCDEF0000000000000000000000000000000001")
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", addressParam(addr))
}

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"pools", "tokens", "token_balances", "epochs", "epoch_rewards"} {
		assert.Contains(t, Schema, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestNewStoreRequiresDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
}
