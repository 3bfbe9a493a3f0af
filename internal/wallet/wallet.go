package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/wallet/signer"
)

// replacementLookback bounds how far back a resumed wait scans for a
// transaction that took over the original's nonce.
const replacementLookback = 256

type Options struct {
	// MaxFeeGwei and MaxPriorityFeeGwei override suggested EIP-1559 fees when
	// the transaction request carries none.
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	// GasMultiplier pads node gas estimates when the request has no limit.
	GasMultiplier float64
	// PollInterval paces receipt polling.
	PollInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		GasMultiplier: 1.2,
		PollInterval:  2 * time.Second,
	}
}

// EVMWallet signs with a local key and talks to the chain it is bound to
// through a ClientCache. Binding to another chain is a copy, see OnChain.
type EVMWallet struct {
	signer  signer.Signer
	clients *ClientCache
	chainID int64
	opts    Options
}

var _ execution.Wallet = (*EVMWallet)(nil)

func New(txSigner signer.Signer, clients *ClientCache, chainID int64, opts Options) *EVMWallet {
	if clients == nil {
		clients = SharedClients()
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &EVMWallet{signer: txSigner, clients: clients, chainID: chainID, opts: opts}
}

// OnChain returns a wallet with the same key bound to chainID.
func (w *EVMWallet) OnChain(chainID int64) *EVMWallet {
	next := *w
	next.chainID = chainID
	return &next
}

// SwitchChainHook moves a local key between chains without prompting.
func (w *EVMWallet) SwitchChainHook() execution.SwitchChainHook {
	return func(_ context.Context, chainID int64) (execution.Wallet, error) {
		return w.OnChain(chainID), nil
	}
}

func (w *EVMWallet) Address() common.Address {
	return w.signer.Address()
}

func (w *EVMWallet) ChainID(context.Context) (int64, error) {
	return w.chainID, nil
}

func (w *EVMWallet) Client(ctx context.Context) (ChainClient, error) {
	return w.clients.Client(ctx, w.chainID)
}

func (w *EVMWallet) SendTransaction(ctx context.Context, req execution.TransactionRequest) (execution.PendingTransaction, error) {
	if w.signer == nil {
		return nil, clierr.New(clierr.CodeSigner, "missing signer")
	}
	client, err := w.Client(ctx)
	if err != nil {
		return nil, err
	}
	remoteID, err := client.ChainID(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if remoteID.Int64() != w.chainID {
		return nil, clierr.New(clierr.CodeChainSwitch, fmt.Sprintf("rpc serves chain %d, wallet is bound to %d", remoteID.Int64(), w.chainID))
	}
	msg, err := w.callMsg(req)
	if err != nil {
		return nil, err
	}

	gasLimit, err := execution.ParseQuantity(req.GasLimit)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeTxUnprepared, "parse gas limit", err)
	}
	if gasLimit == nil || gasLimit.Sign() == 0 {
		estimated, err := client.EstimateGas(ctx, msg)
		if err != nil {
			return nil, err
		}
		gasLimit = new(big.Int).SetUint64(uint64(float64(estimated) * w.opts.GasMultiplier))
	}

	nonce, err := client.PendingNonceAt(ctx, msg.From)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	tx, err := w.buildTx(ctx, client, req, msg, nonce, gasLimit.Uint64())
	if err != nil {
		return nil, err
	}
	signed, err := w.signer.SignTx(remoteID, tx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	startBlock, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch block number", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return &pendingTransaction{
		client:   client,
		hash:     signed.Hash(),
		from:     msg.From,
		nonce:    signed.Nonce(),
		to:       signed.To(),
		data:     signed.Data(),
		chainID:  remoteID,
		scanFrom: startBlock,
		interval: w.opts.PollInterval,
	}, nil
}

func (w *EVMWallet) EstimateGas(ctx context.Context, req execution.TransactionRequest) (*big.Int, error) {
	client, err := w.Client(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := w.callMsg(req)
	if err != nil {
		return nil, err
	}
	gas, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(gas), nil
}

func (w *EVMWallet) GasPrice(ctx context.Context) (*big.Int, error) {
	client, err := w.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.SuggestGasPrice(ctx)
}

// Transaction picks up a transaction sent earlier, possibly by another
// process, so it can be awaited again.
func (w *EVMWallet) Transaction(ctx context.Context, hash string) (execution.PendingTransaction, error) {
	client, err := w.Client(ctx)
	if err != nil {
		return nil, err
	}
	chainID := big.NewInt(w.chainID)
	txHash := common.HexToHash(hash)
	tx, _, err := client.TransactionByHash(ctx, txHash)
	if err != nil {
		// Pruned nodes may still serve the receipt.
		receipt, receiptErr := client.TransactionReceipt(ctx, txHash)
		if receiptErr != nil || receipt == nil {
			return nil, fmt.Errorf("lookup transaction %s: %w", hash, err)
		}
		return &pendingTransaction{client: client, hash: txHash, receipt: receipt, chainID: chainID, interval: w.opts.PollInterval}, nil
	}
	latest, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch block number", err)
	}
	// A replacement may have been mined while nobody was watching.
	scanFrom := uint64(0)
	if latest > replacementLookback {
		scanFrom = latest - replacementLookback
	}
	return &pendingTransaction{
		client:   client,
		hash:     txHash,
		from:     w.Address(),
		nonce:    tx.Nonce(),
		to:       tx.To(),
		data:     tx.Data(),
		chainID:  chainID,
		scanFrom: scanFrom,
		interval: w.opts.PollInterval,
	}, nil
}

func (w *EVMWallet) callMsg(req execution.TransactionRequest) (ethereum.CallMsg, error) {
	if !common.IsHexAddress(strings.TrimSpace(req.To)) {
		return ethereum.CallMsg{}, clierr.New(clierr.CodeTxUnprepared, "transaction request has an invalid target address")
	}
	target := common.HexToAddress(req.To)
	data, err := decodeHex(req.Data)
	if err != nil {
		return ethereum.CallMsg{}, clierr.Wrap(clierr.CodeTxUnprepared, "decode transaction calldata", err)
	}
	value, err := execution.ParseQuantity(req.Value)
	if err != nil {
		return ethereum.CallMsg{}, clierr.Wrap(clierr.CodeTxUnprepared, "parse transaction value", err)
	}
	if value == nil {
		value = big.NewInt(0)
	}
	return ethereum.CallMsg{From: w.Address(), To: &target, Value: value, Data: data}, nil
}

// buildTx prefers fee fields from the request, then configured overrides, then
// node suggestions. Chains without a base fee get a legacy transaction.
func (w *EVMWallet) buildTx(ctx context.Context, client ChainClient, req execution.TransactionRequest, msg ethereum.CallMsg, nonce, gasLimit uint64) (*types.Transaction, error) {
	gasPrice, err := execution.ParseQuantity(req.GasPrice)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeTxUnprepared, "parse gas price", err)
	}
	maxFee, err := execution.ParseQuantity(req.MaxFeePerGas)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeTxUnprepared, "parse max fee per gas", err)
	}
	tipCap, err := execution.ParseQuantity(req.MaxPriorityFeePerGas)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeTxUnprepared, "parse max priority fee per gas", err)
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	if header.BaseFee == nil && maxFee == nil {
		if gasPrice == nil {
			if gasPrice, err = client.SuggestGasPrice(ctx); err != nil {
				return nil, clierr.Wrap(clierr.CodeUnavailable, "suggest gas price", err)
			}
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       msg.To,
			Value:    msg.Value,
			Data:     msg.Data,
		}), nil
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	if tipCap == nil {
		if tipCap, err = resolveTipCap(ctx, client, w.opts.MaxPriorityFeeGwei); err != nil {
			return nil, err
		}
	}
	if maxFee == nil {
		if maxFee, err = resolveFeeCap(baseFee, tipCap, w.opts.MaxFeeGwei); err != nil {
			return nil, err
		}
		if gasPrice != nil && gasPrice.Cmp(maxFee) > 0 {
			maxFee = gasPrice
		}
	}
	if tipCap.Cmp(maxFee) > 0 {
		tipCap = new(big.Int).Set(maxFee)
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(w.chainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: maxFee,
		Gas:       gasLimit,
		To:        msg.To,
		Value:     msg.Value,
		Data:      msg.Data,
	}), nil
}

func resolveTipCap(ctx context.Context, client ChainClient, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
