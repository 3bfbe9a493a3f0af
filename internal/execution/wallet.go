package execution

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Wallet is the signing handle the engine drives. Implementations hold the
// key material; the engine never sees it.
type Wallet interface {
	Address() common.Address
	ChainID(ctx context.Context) (int64, error)
	SendTransaction(ctx context.Context, req TransactionRequest) (PendingTransaction, error)
	EstimateGas(ctx context.Context, req TransactionRequest) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	Transaction(ctx context.Context, hash string) (PendingTransaction, error)
}

// PendingTransaction is a broadcast transaction that can be awaited.
type PendingTransaction interface {
	Hash() string
	Wait(ctx context.Context) (*types.Receipt, error)
}

type ReplacementReason string

const (
	ReplacementRepriced ReplacementReason = "repriced"
	ReplacementReplaced ReplacementReason = "replaced"
)

// ReplacedError is returned by PendingTransaction.Wait when the sender's nonce
// was consumed by a different transaction, such as a wallet speed-up.
type ReplacedError struct {
	Hash        string
	Replacement string
	Reason      ReplacementReason
	Receipt     *types.Receipt
}

func (e *ReplacedError) Error() string {
	return fmt.Sprintf("transaction %s %s by %s", e.Hash, e.Reason, e.Replacement)
}

// SwitchChainHook asks the user to move the wallet to chainID. It returns the
// wallet bound to the new chain, or nil to keep using the current handle.
type SwitchChainHook func(ctx context.Context, chainID int64) (Wallet, error)

// AcceptExchangeRateUpdateHook decides whether a refreshed quote that falls
// outside the step's slippage may be used.
type AcceptExchangeRateUpdateHook func(ctx context.Context, oldStep, newStep Step) (bool, error)

// UpdateTransactionRequestHook lets the caller override gas fields before signing.
type UpdateTransactionRequestHook func(ctx context.Context, req TransactionRequest) (TransactionRequest, error)

type Settings struct {
	SwitchChainHook              SwitchChainHook
	AcceptExchangeRateUpdateHook AcceptExchangeRateUpdateHook
	UpdateTransactionRequestHook UpdateTransactionRequestHook
	UpdateCallback               UpdateCallback
	InfiniteApproval             bool
}

type StatusRequest struct {
	Bridge    string
	FromChain int64
	ToChain   int64
	TxHash    string
}

type TransactionInfo struct {
	TxHash       string `json:"txHash"`
	TxLink       string `json:"txLink,omitempty"`
	Amount       string `json:"amount,omitempty"`
	Token        *Token `json:"token,omitempty"`
	ChainID      int64  `json:"chainId"`
	GasPrice     string `json:"gasPrice,omitempty"`
	GasUsed      string `json:"gasUsed,omitempty"`
	GasToken     *Token `json:"gasToken,omitempty"`
	GasAmount    string `json:"gasAmount,omitempty"`
	GasAmountUSD string `json:"gasAmountUSD,omitempty"`
}

type StatusResponse struct {
	Status           string           `json:"status"`
	Substatus        Substatus        `json:"substatus,omitempty"`
	SubstatusMessage string           `json:"substatusMessage,omitempty"`
	Tool             string           `json:"tool,omitempty"`
	Sending          *TransactionInfo `json:"sending,omitempty"`
	Receiving        *TransactionInfo `json:"receiving,omitempty"`
}

// RoutingAPI is the subset of the routing backend the engine consumes.
type RoutingAPI interface {
	GetStepTransaction(ctx context.Context, step Step) (Step, error)
	GetStatus(ctx context.Context, req StatusRequest) (StatusResponse, error)
}

type ChainInfo struct {
	ID           int64    `json:"id"`
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	NativeToken  Token    `json:"nativeToken"`
	ExplorerURLs []string `json:"explorerUrls"`
}

// ExplorerURL is the first configured block explorer, or "".
func (c ChainInfo) ExplorerURL() string {
	if len(c.ExplorerURLs) == 0 {
		return ""
	}
	return c.ExplorerURLs[0]
}

type ChainResolver interface {
	Chain(ctx context.Context, chainID int64) (ChainInfo, error)
}

// AllowanceChecker makes sure the step's spender may move the source token.
// It records its progress as a TOKEN_ALLOWANCE process. A nil wallet with a
// nil error means execution must halt until interaction is allowed.
type AllowanceChecker interface {
	CheckAllowance(ctx context.Context, w Wallet, step *Step, sm *StatusManager, settings Settings, chain ChainInfo, allowInteraction bool) (Wallet, error)
}

type BalanceChecker interface {
	CheckBalance(ctx context.Context, w Wallet, step *Step) error
}

// ReceiptParser derives same-chain settlement figures from a mined receipt.
type ReceiptParser interface {
	ParseReceipt(ctx context.Context, step *Step, receipt *types.Receipt) (Settlement, error)
}
