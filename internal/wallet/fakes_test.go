package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type fakeClient struct {
	mu sync.Mutex

	chainID      int64
	baseFee      *big.Int
	tipCap       *big.Int
	gasPrice     *big.Int
	estimate     uint64
	pendingNonce uint64
	minedNonce   uint64
	blockNumber  uint64
	blocks       map[uint64]*types.Block
	txs          map[common.Hash]*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	// receiptAfter makes a receipt visible only after that many lookups.
	receiptAfter int
	receiptCalls int
	sendErr      error
	blockErr     error

	sent   []*types.Transaction
	closed bool
}

func newFakeClient(chainID int64) *fakeClient {
	return &fakeClient{
		chainID:  chainID,
		baseFee:  big.NewInt(10_000_000_000),
		tipCap:   big.NewInt(1_000_000_000),
		gasPrice: big.NewInt(12_000_000_000),
		estimate: 100_000,
		blocks:   map[uint64]*types.Block{},
		txs:      map[common.Hash]*types.Transaction{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (c *fakeClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(c.chainID), nil
}

func (c *fakeClient) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blockErr != nil {
		return 0, c.blockErr
	}
	return c.blockNumber, nil
}

func (c *fakeClient) BlockByNumber(_ context.Context, number *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if block, ok := c.blocks[number.Uint64()]; ok {
		return block, nil
	}
	return types.NewBlockWithHeader(&types.Header{Number: number}), nil
}

func (c *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(int64(c.blockNumber)), BaseFee: c.baseFee}, nil
}

func (c *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return c.pendingNonce, nil
}

func (c *fakeClient) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minedNonce, nil
}

func (c *fakeClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *fakeClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeClient) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return c.estimate, nil
}

func (c *fakeClient) SuggestGasPrice(context.Context) (*big.Int, error) {
	return c.gasPrice, nil
}

func (c *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return c.tipCap, nil
}

func (c *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, tx)
	c.txs[tx.Hash()] = tx
	return nil
}

func (c *fakeClient) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, true, nil
}

func (c *fakeClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiptCalls++
	receipt, ok := c.receipts[hash]
	if !ok || c.receiptCalls <= c.receiptAfter {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) lastSent() *types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func fakeCache(clients map[int64]*fakeClient) (*ClientCache, *int) {
	var (
		mu    sync.Mutex
		dials int
	)
	overrides := map[int64]string{}
	for id := range clients {
		overrides[id] = fmt.Sprintf("fake://%d", id)
	}
	cache := NewClientCache(overrides, func(_ context.Context, rawURL string) (ChainClient, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		id, err := strconv.ParseInt(strings.TrimPrefix(rawURL, "fake://"), 10, 64)
		if err != nil {
			return nil, err
		}
		client, ok := clients[id]
		if !ok {
			return nil, fmt.Errorf("no fake client for chain %d", id)
		}
		return client, nil
	})
	return cache, &dials
}
