package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"lpsugar/internal/sugar"
)

// queryFunc runs one facade query and returns the records to print.
type queryFunc func(ctx context.Context, s *sugar.Sugar, cmd *cobra.Command, args []string) ([]interface{}, error)

func records[T any](items []T, err error) ([]interface{}, error) {
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out, nil
}

func newQueryCmds() []*cobra.Command {
	pools := queryCmd("pools", "List pools in registry order", cobra.NoArgs, runPools)
	pools.Flags().String("filter", "", "only pools containing this token")

	pool := queryCmd("pool <index>", "Show the pool at an index", cobra.ExactArgs(1), runPool)
	pool.Flags().String("filter", "", "index among pools containing this token")

	swaps := queryCmd("swaps", "List the swap routing view of pools", cobra.NoArgs, runSwaps)

	tokens := queryCmd("tokens", "List distinct tokens across pools", cobra.NoArgs, runTokens)
	tokens.Flags().String("account", "", "fill account_balance for this account")
	tokens.Flags().StringSlice("ignore", nil, "token addresses to exclude (comma-separated)")

	epochs := queryCmd("epochs <lp>", "List epochs of a pool, most recent first", cobra.ExactArgs(1), runEpochs)
	latest := queryCmd("latest", "List the latest epoch of each gauged pool", cobra.NoArgs, runLatest)

	cmds := []*cobra.Command{pools, pool, swaps, tokens, epochs, latest}
	for _, c := range cmds {
		if c != pool {
			c.Flags().Int("limit", 100, "page size")
			c.Flags().Int("offset", 0, "page offset")
		}
	}
	return cmds
}

func queryCmd(use, short string, args cobra.PositionalArgs, fn queryFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.newSugar()
			if err != nil {
				return err
			}
			out, err := fn(ctx, s, cmd, args)
			if err != nil {
				return err
			}
			return printJSONLines(cmd.OutOrStdout(), out)
		},
	}
}

func pageFlags(cmd *cobra.Command) (int, int) {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	return limit, offset
}

func runPools(ctx context.Context, s *sugar.Sugar, cmd *cobra.Command, _ []string) ([]interface{}, error) {
	raw, _ := cmd.Flags().GetString("filter")
	filter, err := sugar.ParseOptionalAddress(raw)
	if err != nil {
		return nil, err
	}
	limit, offset := pageFlags(cmd)
	items, err := s.All(ctx, limit, offset, filter)
	return records(items, err)
}

func runPool(ctx context.Context, s *sugar.Sugar, cmd *cobra.Command, args []string) ([]interface{}, error) {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: index must be an integer", sugar.ErrInvalidArgument)
	}
	raw, _ := cmd.Flags().GetString("filter")
	filter, err := sugar.ParseOptionalAddress(raw)
	if err != nil {
		return nil, err
	}
	pool, err := s.ByIndex(ctx, index, filter)
	if err != nil {
		return nil, err
	}
	return []interface{}{pool}, nil
}

func runSwaps(ctx context.Context, s *sugar.Sugar, cmd *cobra.Command, _ []string) ([]interface{}, error) {
	limit, offset := pageFlags(cmd)
	items, err := s.ForSwaps(ctx, limit, offset)
	return records(items, err)
}

func runTokens(ctx context.Context, s *sugar.Sugar, cmd *cobra.Command, _ []string) ([]interface{}, error) {
	rawAccount, _ := cmd.Flags().GetString("account")
	account, err := sugar.ParseOptionalAddress(rawAccount)
	if err != nil {
		return nil, err
	}
	rawIgnore, _ := cmd.Flags().GetStringSlice("ignore")
	ignored, err := sugar.ParseAddresses(rawIgnore)
	if err != nil {
		return nil, err
	}
	limit, offset := pageFlags(cmd)
	items, err := s.Tokens(ctx, limit, offset, account, sugar.NewAddressSet(ignored...))
	return records(items, err)
}

func runEpochs(ctx context.Context, s *sugar.Sugar, cmd *cobra.Command, args []string) ([]interface{}, error) {
	lp, err := sugar.ParseAddress(args[0])
	if err != nil {
		return nil, err
	}
	limit, offset := pageFlags(cmd)
	items, err := s.EpochsByAddress(ctx, limit, offset, lp)
	return records(items, err)
}

func runLatest(ctx context.Context, s *sugar.Sugar, cmd *cobra.Command, _ []string) ([]interface{}, error) {
	limit, offset := pageFlags(cmd)
	items, err := s.EpochsLatest(ctx, limit, offset)
	return records(items, err)
}

// printJSONLines writes one JSON document per record.
func printJSONLines(w io.Writer, out []interface{}) error {
	enc := json.NewEncoder(w)
	for _, r := range out {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
