package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"lpsugar/internal/model"
)

// fixtureLine is one JSON line of a fixture file.
type fixtureLine struct {
	Kind    string         `json:"kind"`
	Pool    *model.Pool    `json:"pool,omitempty"`
	Token   *model.Token   `json:"token,omitempty"`
	Epoch   *model.Epoch   `json:"epoch,omitempty"`
	Balance *balanceRecord `json:"balance,omitempty"`
}

type balanceRecord struct {
	Token   common.Address `json:"token"`
	Account common.Address `json:"account"`
	Amount  model.Amount   `json:"amount"`
}

// LoadJSONL reads a fixture file into a State.
func LoadJSONL(path string) (State, error) {
	file, err := os.Open(path)
	if err != nil {
		return State{}, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// ReadJSONL decodes fixture lines from r. Pools keep file order; epochs are
// grouped by pool.
func ReadJSONL(r io.Reader) (State, error) {
	state := State{
		Tokens:   make(map[common.Address]model.Token),
		Epochs:   make(map[common.Address][]model.Epoch),
		Balances: make(map[common.Address]map[common.Address]model.Amount),
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec fixtureLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return State{}, fmt.Errorf("fixture line %d: %w", lineNo, err)
		}

		switch {
		case rec.Kind == "pool" && rec.Pool != nil:
			state.Pools = append(state.Pools, *rec.Pool)
		case rec.Kind == "token" && rec.Token != nil:
			state.Tokens[rec.Token.TokenAddress] = *rec.Token
		case rec.Kind == "epoch" && rec.Epoch != nil:
			state.Epochs[rec.Epoch.Lp] = append(state.Epochs[rec.Epoch.Lp], *rec.Epoch)
		case rec.Kind == "balance" && rec.Balance != nil:
			accounts := state.Balances[rec.Balance.Token]
			if accounts == nil {
				accounts = make(map[common.Address]model.Amount)
				state.Balances[rec.Balance.Token] = accounts
			}
			accounts[rec.Balance.Account] = rec.Balance.Amount
		default:
			return State{}, fmt.Errorf("fixture line %d: unsupported record kind %q", lineNo, rec.Kind)
		}
	}

	if err := scanner.Err(); err != nil {
		return State{}, fmt.Errorf("scan fixture: %w", err)
	}

	return state, nil
}
