package model

import "github.com/ethereum/go-ethereum/common"

// Token captures ERC20 metadata plus listing state.
type Token struct {
	TokenAddress   common.Address `json:"token_address"`
	Symbol         string         `json:"symbol"`
	Decimals       uint8          `json:"decimals"`
	AccountBalance Amount         `json:"account_balance"`
	Listed         bool           `json:"listed"`
}
