package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/registry"
)

// ChainClient is the subset of ethclient.Client the wallet and the allowance
// helpers rely on.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Dialer opens a client for an RPC endpoint.
type Dialer func(ctx context.Context, rawURL string) (ChainClient, error)

func dialEthclient(ctx context.Context, rawURL string) (ChainClient, error) {
	return ethclient.DialContext(ctx, rawURL)
}

type clientEntry struct {
	once   sync.Once
	client ChainClient
	err    error
}

// ClientCache hands out one RPC client per chain id. Clients are dialled
// lazily on first use; a failed dial is forgotten so the next call retries.
type ClientCache struct {
	mu        sync.Mutex
	overrides map[int64]string
	dial      Dialer
	entries   map[int64]*clientEntry
}

func NewClientCache(overrides map[int64]string, dial Dialer) *ClientCache {
	if dial == nil {
		dial = dialEthclient
	}
	return &ClientCache{overrides: copyOverrides(overrides), dial: dial, entries: map[int64]*clientEntry{}}
}

var sharedClients = NewClientCache(nil, nil)

// SharedClients is the process-wide cache used by the CLI.
func SharedClients() *ClientCache {
	return sharedClients
}

// SetRPCOverrides replaces the per-chain endpoint overrides and drops every
// cached client.
func (c *ClientCache) SetRPCOverrides(overrides map[int64]string) {
	c.mu.Lock()
	c.overrides = copyOverrides(overrides)
	c.mu.Unlock()
	c.Reset()
}

func (c *ClientCache) Client(ctx context.Context, chainID int64) (ChainClient, error) {
	c.mu.Lock()
	entry, ok := c.entries[chainID]
	if !ok {
		entry = &clientEntry{}
		c.entries[chainID] = entry
	}
	overrides := c.overrides
	c.mu.Unlock()

	entry.once.Do(func() {
		rpcURL, err := registry.ResolveRPCURLFrom(overrides, chainID)
		if err != nil {
			entry.err = clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
			return
		}
		entry.client, entry.err = c.dial(ctx, rpcURL)
		if entry.err != nil {
			entry.err = clierr.Wrap(clierr.CodeUnavailable, "connect rpc", entry.err)
		}
	})
	if entry.err != nil {
		c.mu.Lock()
		if c.entries[chainID] == entry {
			delete(c.entries, chainID)
		}
		c.mu.Unlock()
		return nil, entry.err
	}
	return entry.client, nil
}

// Reset closes and forgets every cached client.
func (c *ClientCache) Reset() {
	c.mu.Lock()
	entries := c.entries
	c.entries = map[int64]*clientEntry{}
	c.mu.Unlock()
	for _, entry := range entries {
		entry.once.Do(func() {})
		if entry.client != nil {
			entry.client.Close()
		}
	}
}

func copyOverrides(in map[int64]string) map[int64]string {
	out := make(map[int64]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
