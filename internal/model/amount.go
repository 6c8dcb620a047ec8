package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Amount is an immutable non-negative integer quantity (reserves, votes,
// reward amounts). It is encoded as a decimal string in JSON so 256-bit
// values survive decoding by clients without big number support.
type Amount struct {
	v *big.Int
}

// NewAmount copies x into an Amount. A nil x is zero.
func NewAmount(x *big.Int) Amount {
	if x == nil || x.Sign() == 0 {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(x)}
}

// AmountFromUint64 builds an Amount from a uint64.
func AmountFromUint64(x uint64) Amount {
	return NewAmount(new(big.Int).SetUint64(x))
}

// ParseAmount parses a base-10 integer string. Empty input is zero.
func ParseAmount(input string) (Amount, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Amount{}, nil
	}
	x, ok := new(big.Int).SetString(input, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount: %q", input)
	}
	if x.Sign() < 0 {
		return Amount{}, fmt.Errorf("negative amount: %q", input)
	}
	return NewAmount(x), nil
}

// Big returns a copy of the value.
func (a Amount) Big() *big.Int {
	if a.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

func (a Amount) IsZero() bool {
	return a.Sign() == 0
}

func (a Amount) Cmp(b Amount) int {
	return a.Big().Cmp(b.Big())
}

func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		text = s
	}
	parsed, err := ParseAmount(text)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
