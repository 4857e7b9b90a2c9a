package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	x402types "github.com/web3ai/x402gate/types"
)

var _ ChainClient = (*EVMClient)(nil)

// nativeDecimals is the exponent between wei and the native unit.
const nativeDecimals = 18

// EVMClient reads transactions from an EVM JSON-RPC endpoint.
type EVMClient struct {
	rpcURL  string
	network x402types.Network
	chainID *big.Int
	client  *ethclient.Client
}

type evmClientOptions struct {
	forceIPv4  bool
	httpClient *http.Client
}

type EVMClientOption func(*evmClientOptions)

// WithForceIPv4 dials the RPC endpoint over IPv4 only. Some RPC providers
// resolve to IPv6 addresses that blackhole on certain hosts; restricting
// the dialer is the transport-level fix.
func WithForceIPv4() EVMClientOption {
	return func(o *evmClientOptions) {
		o.forceIPv4 = true
	}
}

// WithHTTPClient supplies a fully custom transport for the RPC connection.
// Takes precedence over WithForceIPv4.
func WithHTTPClient(hc *http.Client) EVMClientOption {
	return func(o *evmClientOptions) {
		o.httpClient = hc
	}
}

func NewEVMClient(network x402types.Network, rpcURL string, opts ...EVMClientOption) (*EVMClient, error) {
	chainID, err := network.ChainID()
	if err != nil {
		return nil, err
	}

	var options evmClientOptions
	for _, opt := range opts {
		opt(&options)
	}

	var rpcOpts []rpc.ClientOption
	if options.httpClient != nil {
		rpcOpts = append(rpcOpts, rpc.WithHTTPClient(options.httpClient))
	} else if options.forceIPv4 {
		rpcOpts = append(rpcOpts, rpc.WithHTTPClient(ipv4HTTPClient()))
	}

	rpcClient, err := rpc.DialOptions(context.Background(), rpcURL, rpcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", network, err)
	}

	return &EVMClient{
		rpcURL:  rpcURL,
		network: network,
		chainID: new(big.Int).SetUint64(chainID),
		client:  ethclient.NewClient(rpcClient),
	}, nil
}

// FetchTransaction implements ChainClient.
func (e *EVMClient) FetchTransaction(ctx context.Context, txHash string) (*Transaction, *Receipt, error) {
	hash := common.HexToHash(txHash)

	tx, _, err := e.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil, ErrTxNotFound
		}
		return nil, nil, fmt.Errorf("fetch transaction %s: %w", txHash, err)
	}

	info := &Transaction{
		Hash:  tx.Hash().Hex(),
		Value: decimal.NewFromBigInt(tx.Value(), -nativeDecimals),
	}
	if to := tx.To(); to != nil {
		info.To = to.Hex()
	}
	if from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(e.chainID), tx); err == nil {
		info.From = from.Hex()
	}

	receipt, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			// Seen in the mempool but not mined yet.
			return info, nil, nil
		}
		return nil, nil, fmt.Errorf("fetch receipt %s: %w", txHash, err)
	}

	return info, &Receipt{
		TxHash:      receipt.TxHash.Hex(),
		Success:     receipt.Status == ethtypes.ReceiptStatusSuccessful,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// Network implements ChainClient.
func (e *EVMClient) Network() x402types.Network {
	return e.network
}

// Close implements ChainClient.
func (e *EVMClient) Close() {
	e.client.Close()
}

func ipv4HTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "tcp4", addr)
		},
	}
	return &http.Client{Transport: transport}
}
