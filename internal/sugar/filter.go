package sugar

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"lpsugar/internal/model"
)

// OptionalAddress is an address parameter that may be absent.
type OptionalAddress struct {
	address common.Address
	set     bool
}

// NoAddress is the absent value; as a filter it matches everything.
func NoAddress() OptionalAddress {
	return OptionalAddress{}
}

// SomeAddress wraps a present address.
func SomeAddress(address common.Address) OptionalAddress {
	return OptionalAddress{address: address, set: true}
}

// OptionalFromAddress treats the zero address as absent.
func OptionalFromAddress(address common.Address) OptionalAddress {
	if address == (common.Address{}) {
		return NoAddress()
	}
	return SomeAddress(address)
}

// Get returns the address and whether it is present.
func (o OptionalAddress) Get() (common.Address, bool) {
	return o.address, o.set
}

func (o OptionalAddress) IsSet() bool {
	return o.set
}

func (o OptionalAddress) String() string {
	if !o.set {
		return "any"
	}
	return o.address.Hex()
}

func (o OptionalAddress) matchesPool(pool model.Pool) bool {
	return !o.set || pool.HasToken(o.address)
}

// AddressSet is an unordered set of addresses. The zero value is empty.
type AddressSet struct {
	m map[common.Address]struct{}
}

// NewAddressSet returns a set holding addresses. Duplicates collapse.
func NewAddressSet(addresses ...common.Address) AddressSet {
	set := AddressSet{m: make(map[common.Address]struct{}, len(addresses))}
	for _, addr := range addresses {
		set.m[addr] = struct{}{}
	}
	return set
}

// Contains reports whether address is in the set.
func (s AddressSet) Contains(address common.Address) bool {
	_, ok := s.m[address]
	return ok
}

// Len returns the number of distinct addresses.
func (s AddressSet) Len() int {
	return len(s.m)
}

// ParseAddress converts a hex string into an address.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("%w: invalid address: %s", ErrInvalidArgument, input)
	}
	return common.HexToAddress(input), nil
}

// ParseOptionalAddress parses input, mapping empty input and the zero address
// to NoAddress.
func ParseOptionalAddress(input string) (OptionalAddress, error) {
	if strings.TrimSpace(input) == "" {
		return NoAddress(), nil
	}
	addr, err := ParseAddress(input)
	if err != nil {
		return NoAddress(), err
	}
	return OptionalFromAddress(addr), nil
}

// ParseAddresses converts string addresses, skipping blanks.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		addr, err := ParseAddress(input)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}
