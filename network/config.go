package network

import "fmt"

// Environment variables consulted by ResolveConfig.
const (
	EnvRPCURL  = "PAYSPLIT_RPC_URL"
	EnvRPCUser = "PAYSPLIT_RPC_USER"
	EnvRPCPass = "PAYSPLIT_RPC_PASS"
)

// RPCConfig holds the connection parameters for a BSV node's JSON-RPC interface.
type RPCConfig struct {
	URL      string `json:"url"`
	User     string `json:"user"`
	Password string `json:"password"`
	Network  string `json:"network"`
}

// NetworkPresets contains default RPC configurations for local nodes.
// Mainnet is omitted so that a payout pool never talks to an implied node.
var NetworkPresets = map[string]RPCConfig{
	"regtest": {URL: "http://localhost:18332", User: "paysplit", Password: "paysplit"},
	"testnet": {URL: "http://localhost:18333", User: "paysplit", Password: "paysplit"},
}

// ResolveConfig merges RPC configuration from, in decreasing priority,
// CLI flags, the PAYSPLIT_RPC_* environment variables and the network
// preset. Mainnet has no preset and must be configured explicitly.
func ResolveConfig(flags *RPCConfig, env map[string]string, network string) (*RPCConfig, error) {
	result := RPCConfig{Network: network}
	if preset, ok := NetworkPresets[network]; ok {
		result = preset
		result.Network = network
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&result.URL, env[EnvRPCURL])
	override(&result.User, env[EnvRPCUser])
	override(&result.Password, env[EnvRPCPass])

	if flags != nil {
		override(&result.URL, flags.URL)
		override(&result.User, flags.User)
		override(&result.Password, flags.Password)
	}

	if result.URL == "" {
		return nil, fmt.Errorf("%w: %s requires --rpc-url or %s", ErrNoRPCConfig, network, EnvRPCURL)
	}
	return &result, nil
}
