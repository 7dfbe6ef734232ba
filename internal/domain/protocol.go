package domain

// Protocol identifies the AMM family a pool belongs to.
type Protocol string

const (
	ProtocolUniswapV2 Protocol = "uniswap"
	ProtocolBalancer  Protocol = "balancer"
)

// String returns the string representation of Protocol.
func (p Protocol) String() string {
	return string(p)
}

// IsValid checks if the protocol is a supported value.
func (p Protocol) IsValid() bool {
	return p == ProtocolUniswapV2 || p == ProtocolBalancer
}

// ProtocolInfo is catalog metadata describing a supported protocol.
type ProtocolInfo struct {
	Name        Protocol // protocol tag stored on transactions and candles
	DisplayName string   // human readable name
	EventName   string   // swap event emitted by the pool contract
}

// SupportedProtocols lists every protocol with a swap normalizer.
var SupportedProtocols = []ProtocolInfo{
	{Name: ProtocolUniswapV2, DisplayName: "Uniswap V2", EventName: "Swap"},
	{Name: ProtocolBalancer, DisplayName: "Balancer", EventName: "LOG_SWAP"},
}
