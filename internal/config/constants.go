package config

// Known network names.
const (
	NetworkX1Mainnet     = "x1-mainnet"
	NetworkX1Testnet     = "x1-testnet"
	NetworkSolanaMainnet = "solana-mainnet"
	NetworkSolanaDevnet  = "solana-devnet"
	NetworkSolanaTestnet = "solana-testnet"
)

// Default RPC endpoints per network.
const (
	X1MainnetRPC = "https://rpc.mainnet.x1.xyz"
	X1TestnetRPC = "https://rpc.testnet.x1.xyz"

	SolanaMainnetRPC = "https://api.mainnet-beta.solana.com"
	SolanaDevnetRPC  = "https://api.devnet.solana.com"
	SolanaTestnetRPC = "https://api.testnet.solana.com"
)

// LamportsPerUnit is the base-unit scale of the native token.
const LamportsPerUnit = 1_000_000_000

// EndpointFor maps a network name to its default RPC endpoint.
func EndpointFor(network string) (string, bool) {
	switch network {
	case NetworkX1Mainnet:
		return X1MainnetRPC, true
	case NetworkX1Testnet:
		return X1TestnetRPC, true
	case NetworkSolanaMainnet:
		return SolanaMainnetRPC, true
	case NetworkSolanaDevnet:
		return SolanaDevnetRPC, true
	case NetworkSolanaTestnet:
		return SolanaTestnetRPC, true
	default:
		return "", false
	}
}
