package types

import "fmt"

// Network identifies the blockchain a deployment verifies payments on.
type Network string

const (
	NetworkMonadTestnet Network = "monad-testnet"
	NetworkMonad        Network = "monad"
	NetworkSepolia      Network = "sepolia"
	NetworkBase         Network = "base"
	NetworkBaseSepolia  Network = "base-sepolia"
	NetworkPolygon      Network = "polygon"
	NetworkPolygonAmoy  Network = "polygon-amoy"
)

// evmChainIDs maps network names to their numeric chain identifiers.
// Lookups on the wrong network are a caller error; the chain client only
// ever talks to the one endpoint it was dialed against.
var evmChainIDs = map[Network]uint64{
	NetworkMonadTestnet: 10143,
	NetworkMonad:        143,
	NetworkSepolia:      11155111,
	NetworkBase:         8453,
	NetworkBaseSepolia:  84532,
	NetworkPolygon:      137,
	NetworkPolygonAmoy:  80002,
}

// ChainID returns the numeric chain identifier for the network.
func (n Network) ChainID() (uint64, error) {
	id, ok := evmChainIDs[n]
	if !ok {
		return 0, &GateError{
			Code:    ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", n),
		}
	}
	return id, nil
}

// ChainIDString is ChainID formatted for headers and challenge bodies.
func (n Network) ChainIDString() (string, error) {
	id, err := n.ChainID()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", id), nil
}

func (n Network) IsTestnet() bool {
	return n == NetworkMonadTestnet || n == NetworkSepolia ||
		n == NetworkBaseSepolia || n == NetworkPolygonAmoy
}

func (n Network) String() string {
	return string(n)
}
