package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/route-executor/internal/execution"
)

type pendingTransaction struct {
	client   ChainClient
	hash     common.Hash
	from     common.Address
	nonce    uint64
	to       *common.Address
	data     []byte
	chainID  *big.Int
	scanFrom uint64
	interval time.Duration
	// receipt is set when the transaction was already mined at lookup time.
	receipt *types.Receipt
}

func (p *pendingTransaction) Hash() string {
	return p.hash.Hex()
}

// Wait polls for the receipt. If the sender's nonce is consumed by another
// transaction it returns an *execution.ReplacedError describing it.
func (p *pendingTransaction) Wait(ctx context.Context) (*types.Receipt, error) {
	if p.receipt != nil {
		return p.receipt, nil
	}
	return execution.Poll(ctx, p.interval, func(ctx context.Context) (*types.Receipt, bool, error) {
		receipt, err := p.client.TransactionReceipt(ctx, p.hash)
		if err == nil && receipt != nil {
			return receipt, true, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, false, err
		}
		if p.from == (common.Address{}) {
			return nil, false, nil
		}
		replaced, err := p.findReplacement(ctx)
		if err != nil {
			return nil, false, err
		}
		if replaced != nil {
			return nil, false, execution.Permanent(replaced)
		}
		return nil, false, nil
	})
}

func (p *pendingTransaction) findReplacement(ctx context.Context) (*execution.ReplacedError, error) {
	mined, err := p.client.NonceAt(ctx, p.from, nil)
	if err != nil {
		return nil, err
	}
	if mined <= p.nonce {
		return nil, nil
	}
	// The nonce is used; our own receipt may have landed since the last probe.
	if receipt, err := p.client.TransactionReceipt(ctx, p.hash); err == nil && receipt != nil {
		return nil, nil
	}

	latest, err := p.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	txSigner := types.LatestSignerForChainID(p.chainID)
	first := p.scanFrom
	for n := p.scanFrom; n <= latest; n++ {
		block, err := p.client.BlockByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil {
			return nil, err
		}
		for _, tx := range block.Transactions() {
			if tx.Nonce() != p.nonce {
				continue
			}
			sender, err := types.Sender(txSigner, tx)
			if err != nil || sender != p.from {
				continue
			}
			receipt, err := p.client.TransactionReceipt(ctx, tx.Hash())
			if err != nil {
				return nil, err
			}
			reason := execution.ReplacementReplaced
			if sameTarget(tx.To(), p.to) && bytes.Equal(tx.Data(), p.data) {
				reason = execution.ReplacementRepriced
			}
			return &execution.ReplacedError{
				Hash:        p.hash.Hex(),
				Replacement: tx.Hash().Hex(),
				Reason:      reason,
				Receipt:     receipt,
			}, nil
		}
		p.scanFrom = n + 1
	}
	return nil, execution.Permanent(fmt.Errorf("transaction %s dropped: nonce %d was used by a transaction outside blocks %d..%d: %w", p.hash.Hex(), p.nonce, first, latest, ethereum.NotFound))
}

func sameTarget(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
