package allowance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/id"
	"github.com/ggonzalez94/route-executor/internal/registry"
	"github.com/ggonzalez94/route-executor/internal/wallet"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

// ClientSource yields a read client for a chain.
type ClientSource interface {
	Client(ctx context.Context, chainID int64) (wallet.ChainClient, error)
}

// Checker sets ERC-20 allowances for a step's spender and checks that the
// wallet holds the amount it is about to send.
type Checker struct {
	clients ClientSource
	logger  *slog.Logger
	// BalanceRetries and BalanceRetryDelay give a just-settled previous step
	// time to show up in the balance.
	BalanceRetries    int
	BalanceRetryDelay time.Duration
}

var (
	_ execution.AllowanceChecker = (*Checker)(nil)
	_ execution.BalanceChecker   = (*Checker)(nil)
)

func New(clients ClientSource, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Checker{clients: clients, logger: logger, BalanceRetries: 3, BalanceRetryDelay: 200 * time.Millisecond}
}

func (c *Checker) CheckAllowance(ctx context.Context, w execution.Wallet, step *execution.Step, sm *execution.StatusManager, settings execution.Settings, chain execution.ChainInfo, allowInteraction bool) (execution.Wallet, error) {
	const t = execution.ProcessTokenAllowance
	process, err := sm.FindOrCreateProcess(step, t, execution.StatusStarted)
	if err != nil {
		return nil, err
	}
	if process.Status == execution.StatusDone {
		return w, nil
	}

	next, err := execution.SwitchChain(ctx, w, sm, step, allowInteraction, settings.SwitchChainHook)
	if err != nil {
		return nil, c.fail(step, sm, err)
	}
	if next == nil {
		return nil, nil
	}
	w = next

	if process.TxHash != "" {
		tx, err := w.Transaction(ctx, process.TxHash)
		if err != nil {
			return nil, c.fail(step, sm, err)
		}
		return c.awaitApproval(ctx, w, step, sm, chain, tx)
	}

	spender := strings.TrimSpace(step.Estimate.ApprovalAddress)
	if !common.IsHexAddress(spender) {
		return nil, c.fail(step, sm, clierr.New(clierr.CodeTxUnprepared, "step has no approval address"))
	}
	amount, err := execution.ParseQuantity(step.Action.FromAmount)
	if err != nil || amount == nil {
		return nil, c.fail(step, sm, clierr.New(clierr.CodeTxUnprepared, fmt.Sprintf("invalid step amount %q", step.Action.FromAmount)))
	}
	token := common.HexToAddress(step.Action.FromToken.Address)

	current, err := c.Allowance(ctx, step.Action.FromChainID, token, w.Address(), common.HexToAddress(spender))
	if err != nil {
		return nil, c.fail(step, sm, err)
	}
	if current.Cmp(amount) >= 0 {
		if _, err := sm.UpdateProcess(step, t, execution.StatusDone, execution.ProcessUpdate{}); err != nil {
			return nil, err
		}
		return w, nil
	}

	if process.Status != execution.StatusActionRequired {
		if _, err := sm.UpdateProcess(step, t, execution.StatusActionRequired, execution.ProcessUpdate{}); err != nil {
			return nil, err
		}
	}
	if !allowInteraction {
		return nil, nil
	}

	approveAmount := amount
	if settings.InfiniteApproval {
		approveAmount = math.MaxBig256
	}
	data, err := erc20ABI.Pack("approve", common.HexToAddress(spender), approveAmount)
	if err != nil {
		return nil, c.fail(step, sm, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err))
	}
	tx, err := w.SendTransaction(ctx, execution.TransactionRequest{
		To:      token.Hex(),
		Data:    hexutil.Encode(data),
		Value:   "0",
		ChainID: step.Action.FromChainID,
	})
	if err != nil {
		return nil, c.fail(step, sm, err)
	}
	c.logger.Info("approval submitted", "step", step.ID, "token", token.Hex(), "spender", spender, "tx_hash", tx.Hash())
	if _, err := sm.UpdateProcess(step, t, execution.StatusPending, execution.ProcessUpdate{
		TxHash: tx.Hash(),
		TxLink: registry.ExplorerTxLink(chain.ExplorerURL(), tx.Hash()),
	}); err != nil {
		return nil, err
	}
	return c.awaitApproval(ctx, w, step, sm, chain, tx)
}

func (c *Checker) awaitApproval(ctx context.Context, w execution.Wallet, step *execution.Step, sm *execution.StatusManager, chain execution.ChainInfo, tx execution.PendingTransaction) (execution.Wallet, error) {
	const t = execution.ProcessTokenAllowance
	receipt, err := tx.Wait(ctx)
	var replaced *execution.ReplacedError
	if errors.As(err, &replaced) {
		if _, err := sm.UpdateProcess(step, t, execution.StatusPending, execution.ProcessUpdate{
			TxHash: replaced.Replacement,
			TxLink: registry.ExplorerTxLink(chain.ExplorerURL(), replaced.Replacement),
		}); err != nil {
			return nil, err
		}
		receipt, err = replaced.Receipt, nil
	}
	if err != nil {
		return nil, c.fail(step, sm, err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return nil, c.fail(step, sm, clierr.New(clierr.CodeTxFailed, "Token allowance transaction was reverted."))
	}
	if _, err := sm.UpdateProcess(step, t, execution.StatusDone, execution.ProcessUpdate{}); err != nil {
		return nil, err
	}
	return w, nil
}

// CheckBalance fails with CodeBalance when the wallet holds less of the
// source token than the step sends.
func (c *Checker) CheckBalance(ctx context.Context, w execution.Wallet, step *execution.Step) error {
	need, err := execution.ParseQuantity(step.Action.FromAmount)
	if err != nil || need == nil {
		return clierr.New(clierr.CodeTxUnprepared, fmt.Sprintf("invalid step amount %q", step.Action.FromAmount))
	}
	token := step.Action.FromToken
	var have *big.Int
	for attempt := 0; ; attempt++ {
		have, err = c.Balance(ctx, step.Action.FromChainID, token.Address, w.Address())
		if err != nil {
			return err
		}
		if have.Cmp(need) >= 0 {
			return nil
		}
		if attempt >= c.BalanceRetries {
			break
		}
		c.logger.Debug("balance below step amount, rechecking", "step", step.ID, "have", have.String(), "need", need.String())
		timer := time.NewTimer(c.BalanceRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &clierr.Error{
		Code:    clierr.CodeBalance,
		Message: "The balance is too low.",
		Display: fmt.Sprintf(
			"Your %s balance is too low, you try to transfer %s %s, but your wallet only holds %s %s. No funds have been sent.",
			token.Symbol, id.FormatDecimalCompat(need.String(), token.Decimals), token.Symbol,
			id.FormatDecimalCompat(have.String(), token.Decimals), token.Symbol,
		),
	}
}

// Allowance reads token.allowance(owner, spender).
func (c *Checker) Allowance(ctx context.Context, chainID int64, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack allowance calldata", err)
	}
	return c.callUint(ctx, chainID, token, data, "allowance")
}

// Balance reads the native or ERC-20 balance of owner.
func (c *Checker) Balance(ctx context.Context, chainID int64, tokenAddress string, owner common.Address) (*big.Int, error) {
	if registry.IsNativeTokenAddress(tokenAddress) {
		client, err := c.clients.Client(ctx, chainID)
		if err != nil {
			return nil, err
		}
		return client.BalanceAt(ctx, owner, nil)
	}
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf calldata", err)
	}
	return c.callUint(ctx, chainID, common.HexToAddress(tokenAddress), data, "balanceOf")
}

func (c *Checker) callUint(ctx context.Context, chainID int64, token common.Address, data []byte, method string) (*big.Int, error) {
	client, err := c.clients.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeRPC, "decode "+method+" result", err)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeRPC, "decode "+method+" result: unexpected type")
	}
	return value, nil
}

func (c *Checker) fail(step *execution.Step, sm *execution.StatusManager, cause error) error {
	process, _ := step.Execution.FindProcess(execution.ProcessTokenAllowance)
	classified := execution.ClassifyError(cause, step, &process)
	_, _ = sm.UpdateProcess(step, execution.ProcessTokenAllowance, execution.StatusFailed, execution.ProcessUpdate{Error: execution.ProcessErrorFrom(classified)})
	_, _ = sm.UpdateExecution(step, execution.StatusFailed, nil)
	c.logger.Warn("token allowance failed", "step", step.ID, "err", cause)
	return classified
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
