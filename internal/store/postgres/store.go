// Package postgres serves the read model from Postgres. Each snapshot runs
// inside its own REPEATABLE READ, READ ONLY transaction.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lpsugar/internal/model"
	"lpsugar/internal/store"
)

// Schema creates the tables the store reads.
//
//go:embed schema.sql
var Schema string

// Store opens transaction-backed snapshots over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema applies Schema. Every statement is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return classify("ensure schema", err)
}

func (s *Store) Snapshot(ctx context.Context) (store.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, classify("begin snapshot", err)
	}
	return &snapshot{tx: tx}, nil
}

// classify marks connection-level failures as retryable. Server-reported
// errors (bad SQL, constraint, missing table) are returned as is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return store.Unavailable(op, err)
}

// snapshot serializes access to its transaction.
type snapshot struct {
	mu sync.Mutex
	tx pgx.Tx
}

func (s *snapshot) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

const poolColumns = `lp, symbol, decimals, liquidity::text, type, tick, sqrt_ratio::text,
	token0, reserve0::text, staked0::text, token1, reserve1::text, staked1::text,
	gauge, gauge_liquidity::text, gauge_alive, fee, bribe, factory,
	emissions::text, emissions_token, pool_fee, unstaked_fee,
	token0_fees::text, token1_fees::text, nfpm, alm, root`

// poolRow mirrors poolColumns with the driver-facing column types.
type poolRow struct {
	Lp             string
	Symbol         string
	Decimals       int16
	Liquidity      string
	Type           int32
	Tick           int32
	SqrtRatio      string
	Token0         string
	Reserve0       string
	Staked0        string
	Token1         string
	Reserve1       string
	Staked1        string
	Gauge          string
	GaugeLiquidity string
	GaugeAlive     bool
	Fee            string
	Bribe          string
	Factory        string
	Emissions      string
	EmissionsToken string
	PoolFee        int64
	UnstakedFee    int64
	Token0Fees     string
	Token1Fees     string
	Nfpm           string
	Alm            string
	Root           string
}

func (r *poolRow) dest() []any {
	return []any{
		&r.Lp, &r.Symbol, &r.Decimals, &r.Liquidity, &r.Type, &r.Tick, &r.SqrtRatio,
		&r.Token0, &r.Reserve0, &r.Staked0, &r.Token1, &r.Reserve1, &r.Staked1,
		&r.Gauge, &r.GaugeLiquidity, &r.GaugeAlive, &r.Fee, &r.Bribe, &r.Factory,
		&r.Emissions, &r.EmissionsToken, &r.PoolFee, &r.UnstakedFee,
		&r.Token0Fees, &r.Token1Fees, &r.Nfpm, &r.Alm, &r.Root,
	}
}

// rowDecoder collects the first decode error so a row converts in one pass.
type rowDecoder struct {
	err error
}

func (d *rowDecoder) address(column, value string) common.Address {
	if d.err != nil || value == "" {
		return common.Address{}
	}
	if !common.IsHexAddress(value) {
		d.err = fmt.Errorf("column %s: invalid address %q", column, value)
		return common.Address{}
	}
	return common.HexToAddress(value)
}

func (d *rowDecoder) amount(column, value string) model.Amount {
	if d.err != nil {
		return model.Amount{}
	}
	a, err := model.ParseAmount(value)
	if err != nil {
		d.err = fmt.Errorf("column %s: %w", column, err)
	}
	return a
}

func (d *rowDecoder) decimals(column string, value int16) uint8 {
	if d.err == nil && (value < 0 || value > 255) {
		d.err = fmt.Errorf("column %s: decimals %d out of range", column, value)
	}
	return uint8(value)
}

func (d *rowDecoder) unsigned(column string, value int64) uint64 {
	if d.err == nil && value < 0 {
		d.err = fmt.Errorf("column %s: negative value %d", column, value)
	}
	return uint64(value)
}

func (r poolRow) pool() (model.Pool, error) {
	var d rowDecoder
	p := model.Pool{
		Lp:             d.address("lp", r.Lp),
		Symbol:         r.Symbol,
		Decimals:       d.decimals("decimals", r.Decimals),
		Liquidity:      d.amount("liquidity", r.Liquidity),
		Type:           r.Type,
		Tick:           r.Tick,
		SqrtRatio:      d.amount("sqrt_ratio", r.SqrtRatio),
		Token0:         d.address("token0", r.Token0),
		Reserve0:       d.amount("reserve0", r.Reserve0),
		Staked0:        d.amount("staked0", r.Staked0),
		Token1:         d.address("token1", r.Token1),
		Reserve1:       d.amount("reserve1", r.Reserve1),
		Staked1:        d.amount("staked1", r.Staked1),
		Gauge:          d.address("gauge", r.Gauge),
		GaugeLiquidity: d.amount("gauge_liquidity", r.GaugeLiquidity),
		GaugeAlive:     r.GaugeAlive,
		Fee:            d.address("fee", r.Fee),
		Bribe:          d.address("bribe", r.Bribe),
		Factory:        d.address("factory", r.Factory),
		Emissions:      d.amount("emissions", r.Emissions),
		EmissionsToken: d.address("emissions_token", r.EmissionsToken),
		PoolFee:        d.unsigned("pool_fee", r.PoolFee),
		UnstakedFee:    d.unsigned("unstaked_fee", r.UnstakedFee),
		Token0Fees:     d.amount("token0_fees", r.Token0Fees),
		Token1Fees:     d.amount("token1_fees", r.Token1Fees),
		Nfpm:           d.address("nfpm", r.Nfpm),
		Alm:            d.address("alm", r.Alm),
		Root:           d.address("root", r.Root),
	}
	if d.err != nil {
		return model.Pool{}, d.err
	}
	return p, nil
}

// addressParam is the stored form of an address.
func addressParam(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (s *snapshot) PoolCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.tx.QueryRow(ctx, `SELECT count(*) FROM pools`).Scan(&n); err != nil {
		return 0, classify("count pools", err)
	}
	return int(n), nil
}

func (s *snapshot) PoolAt(ctx context.Context, i int) (model.Pool, error) {
	if i < 0 {
		return model.Pool{}, store.IndexOutOfRange("pool", i, 0)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var row poolRow
	err := s.tx.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools ORDER BY idx OFFSET $1 LIMIT 1`, int64(i),
	).Scan(row.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Pool{}, fmt.Errorf("%w: pool index %d", store.ErrNotFound, i)
		}
		return model.Pool{}, classify("read pool", err)
	}
	pool, err := row.pool()
	if err != nil {
		return model.Pool{}, fmt.Errorf("pool index %d: %w", i, err)
	}
	return pool, nil
}

func (s *snapshot) Token(ctx context.Context, address common.Address) (model.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		symbol   string
		decimals int16
		listed   bool
	)
	err := s.tx.QueryRow(ctx,
		`SELECT symbol, decimals, listed FROM tokens WHERE address = $1`, addressParam(address),
	).Scan(&symbol, &decimals, &listed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Token{}, fmt.Errorf("%w: token %s", store.ErrNotFound, address.Hex())
		}
		return model.Token{}, classify("read token", err)
	}

	var d rowDecoder
	tok := model.Token{
		TokenAddress: address,
		Symbol:       symbol,
		Decimals:     d.decimals("decimals", decimals),
		Listed:       listed,
	}
	return tok, d.err
}

func (s *snapshot) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var balance string
	err := s.tx.QueryRow(ctx,
		`SELECT balance::text FROM token_balances WHERE token = $1 AND account = $2`,
		addressParam(token), addressParam(account),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, classify("read balance", err)
	}
	a, err := model.ParseAmount(balance)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", token.Hex(), err)
	}
	return a.Big(), nil
}

func (s *snapshot) ensurePool(ctx context.Context, lp common.Address) error {
	var exists bool
	err := s.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pools WHERE lp = $1)`, addressParam(lp),
	).Scan(&exists)
	if err != nil {
		return classify("lookup pool", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", store.ErrUnknownPool, lp.Hex())
	}
	return nil
}

func (s *snapshot) EpochCount(ctx context.Context, lp common.Address) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePool(ctx, lp); err != nil {
		return 0, err
	}
	var n int64
	err := s.tx.QueryRow(ctx, `SELECT count(*) FROM epochs WHERE lp = $1`, addressParam(lp)).Scan(&n)
	if err != nil {
		return 0, classify("count epochs", err)
	}
	return int(n), nil
}

func (s *snapshot) EpochAt(ctx context.Context, lp common.Address, i int) (model.Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensurePool(ctx, lp); err != nil {
		return model.Epoch{}, err
	}
	if i < 0 {
		return model.Epoch{}, store.IndexOutOfRange("epoch", i, 0)
	}

	var (
		ts               int64
		votes, emissions string
	)
	err := s.tx.QueryRow(ctx, `
		SELECT ts, votes::text, emissions::text
		FROM epochs
		WHERE lp = $1
		ORDER BY ts DESC
		OFFSET $2 LIMIT 1
	`, addressParam(lp), int64(i)).Scan(&ts, &votes, &emissions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Epoch{}, fmt.Errorf("%w: epoch index %d of %s", store.ErrNotFound, i, lp.Hex())
		}
		return model.Epoch{}, classify("read epoch", err)
	}

	var d rowDecoder
	epoch := model.Epoch{
		Ts:        d.unsigned("ts", ts),
		Lp:        lp,
		Votes:     d.amount("votes", votes),
		Emissions: d.amount("emissions", emissions),
	}
	if d.err != nil {
		return model.Epoch{}, d.err
	}

	rows, err := s.tx.Query(ctx, `
		SELECT kind, token, amount::text
		FROM epoch_rewards
		WHERE lp = $1 AND ts = $2
		ORDER BY kind, position
	`, addressParam(lp), ts)
	if err != nil {
		return model.Epoch{}, classify("read epoch rewards", err)
	}
	defer rows.Close()

	var rewards []rewardRow
	for rows.Next() {
		var r rewardRow
		if err := rows.Scan(&r.Kind, &r.Token, &r.Amount); err != nil {
			return model.Epoch{}, classify("scan epoch reward", err)
		}
		rewards = append(rewards, r)
	}
	if err := rows.Err(); err != nil {
		return model.Epoch{}, classify("read epoch rewards", err)
	}

	if epoch.Bribes, epoch.Fees, err = splitRewards(rewards); err != nil {
		return model.Epoch{}, fmt.Errorf("epoch %d of %s: %w", ts, lp.Hex(), err)
	}
	return epoch, nil
}

type rewardRow struct {
	Kind   string
	Token  string
	Amount string
}

const (
	kindBribe = "bribe"
	kindFee   = "fee"
)

// splitRewards keeps row order within each kind.
func splitRewards(rows []rewardRow) (bribes, fees []model.Reward, err error) {
	bribes = make([]model.Reward, 0)
	fees = make([]model.Reward, 0)
	var d rowDecoder
	for _, r := range rows {
		reward := model.Reward{
			Token:  d.address("token", r.Token),
			Amount: d.amount("amount", r.Amount),
		}
		if d.err != nil {
			return nil, nil, d.err
		}
		switch r.Kind {
		case kindBribe:
			bribes = append(bribes, reward)
		case kindFee:
			fees = append(fees, reward)
		default:
			return nil, nil, fmt.Errorf("unknown reward kind %q", r.Kind)
		}
	}
	return bribes, fees, nil
}
