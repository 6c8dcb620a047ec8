// Package store defines the read contract the query engine consumes. Stores
// expose pools, tokens and per-pool epochs in a canonical order with lookup by
// absolute index; the engine never re-sorts what a store returns.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lpsugar/internal/model"
)

var (
	// ErrNotFound is returned for an out-of-range index or a missing token.
	ErrNotFound = errors.New("store: not found")
	// ErrUnknownPool is returned by epoch reads for an unregistered pool.
	ErrUnknownPool = fmt.Errorf("%w: unknown pool", ErrNotFound)
	// ErrUnavailable marks transport or backend failures that may succeed on retry.
	ErrUnavailable = errors.New("store: unavailable")
)

// Source opens consistent read snapshots.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot is one logical, immutable view of the store. Counts and indexed
// reads made through the same snapshot always agree with each other.
type Snapshot interface {
	PoolCount(ctx context.Context) (int, error)
	// PoolAt returns the pool at registry index i.
	PoolAt(ctx context.Context, i int) (model.Pool, error)
	Token(ctx context.Context, address common.Address) (model.Token, error)
	EpochCount(ctx context.Context, lp common.Address) (int, error)
	// EpochAt returns the i-th epoch of lp, most recent first.
	EpochAt(ctx context.Context, lp common.Address, i int) (model.Epoch, error)
	Close() error
}

// BalanceReader is implemented by snapshots that can report token balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// IndexOutOfRange builds the not-found error for an index lookup.
func IndexOutOfRange(kind string, i, size int) error {
	return fmt.Errorf("%w: %s index %d out of range (size %d)", ErrNotFound, kind, i, size)
}
