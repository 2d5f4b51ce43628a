package wallet

import "fmt"

// NetworkConfig defines the parameters of a BSV network the pool runs on.
type NetworkConfig struct {
	Name           string `json:"name"`
	AddressVersion byte   `json:"address_version"`
	DefaultPort    uint16 `json:"default_port"`
	RPCPort        uint16 `json:"rpc_port"`
}

// Predefined network configurations.
var (
	MainNet = NetworkConfig{Name: "mainnet", AddressVersion: 0x00, DefaultPort: 8333, RPCPort: 8332}
	TestNet = NetworkConfig{Name: "testnet", AddressVersion: 0x6f, DefaultPort: 18333, RPCPort: 18332}
	RegTest = NetworkConfig{Name: "regtest", AddressVersion: 0x6f, DefaultPort: 18444, RPCPort: 18443}
)

var predefined = map[string]*NetworkConfig{
	"mainnet": &MainNet,
	"testnet": &TestNet,
	"regtest": &RegTest,
}

// GetNetwork returns a predefined network by name, or ErrInvalidNetwork.
func GetNetwork(name string) (*NetworkConfig, error) {
	if net, ok := predefined[name]; ok {
		return net, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidNetwork, name)
}

// IsMainnet reports whether addresses on this network use the mainnet prefix.
func (n *NetworkConfig) IsMainnet() bool {
	return n.AddressVersion == MainNet.AddressVersion
}
