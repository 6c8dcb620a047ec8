package model

import "github.com/ethereum/go-ethereum/common"

// Epoch is one weekly voting period of a pool.
type Epoch struct {
	Ts        uint64         `json:"ts"`
	Lp        common.Address `json:"lp"`
	Votes     Amount         `json:"votes"`
	Emissions Amount         `json:"emissions"`
	Bribes    []Reward       `json:"bribes"`
	Fees      []Reward       `json:"fees"`
}

// Reward is a bribe or fee amount denominated in one token.
type Reward struct {
	Token  common.Address `json:"token"`
	Amount Amount         `json:"amount"`
}
