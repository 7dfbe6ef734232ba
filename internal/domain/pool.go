package domain

import "strings"

// Pool is the static configuration of one tracked liquidity pool.
// Immutable once loaded.
type Pool struct {
	Protocol      Protocol // AMM family
	PoolRatio     string   // weight notation, e.g. "50:50"
	PoolContract  string   // pool address, lowercase hex
	TokenName     string   // base asset symbol
	TokenContract string   // base asset address
	TokenDecimals int32    // base asset decimals
	PairName      string   // quote asset symbol
	PairContract  string   // quote asset address
	PairDecimals  int32    // quote asset decimals
	InversePrice  bool     // quote price as pair/token instead of token/pair
	FromBlock     uint64   // earliest block considered for backfill
}

// Symbol returns the TOKEN/PAIR display symbol.
func (p Pool) Symbol() string {
	return p.TokenName + "/" + p.PairName
}

// NormalizeAddress lowercases and trims a hex address so it can be used as a key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
