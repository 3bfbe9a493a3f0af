package execution

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/registry"
)

type ExecutorOptions struct {
	API       RoutingAPI
	Chains    ChainResolver
	Allowance AllowanceChecker
	Balance   BalanceChecker
	Receipts  ReceiptParser
	// PollInterval paces destination status polling.
	PollInterval time.Duration
	// TxWaitTimeout bounds a single confirmation wait; zero waits until ctx ends.
	TxWaitTimeout time.Duration
	// HaltBeforeInteraction starts every route with interaction disallowed.
	HaltBeforeInteraction bool
	Logger                *slog.Logger
}

func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{
		PollInterval:  DefaultPollInterval,
		TxWaitTimeout: 10 * time.Minute,
	}
}

// StepExecutor drives one step at a time through allowance, submission,
// confirmation, and destination settlement. Every call re-derives its position
// from the step's processes, so a halted or failed step can be executed again.
type StepExecutor struct {
	opts    ExecutorOptions
	logger  *slog.Logger
	allow   atomic.Bool
	stopped atomic.Bool
}

func NewStepExecutor(opts ExecutorOptions) *StepExecutor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &StepExecutor{opts: opts, logger: logger}
	e.allow.Store(!opts.HaltBeforeInteraction)
	return e
}

// AllowInteraction toggles whether the executor may prompt the user (sign,
// switch chain, accept a new rate). When false, execution halts at the next
// prompt and can be resumed later from the same point.
func (e *StepExecutor) AllowInteraction(allow bool) {
	e.allow.Store(allow)
}

// StopExecution halts this executor at its next interaction point. It does
// not abort an in-flight submission or confirmation wait.
func (e *StepExecutor) StopExecution() {
	e.stopped.Store(true)
	e.allow.Store(false)
}

func (e *StepExecutor) Stopped() bool {
	return e.stopped.Load()
}

func (e *StepExecutor) interactionAllowed() bool {
	return e.allow.Load() && !e.stopped.Load()
}

// Execute runs step until it is DONE, halts for interaction, or fails. A halt
// returns the current execution with a nil error. Failures are recorded on
// the step and returned as classified errors.
func (e *StepExecutor) Execute(ctx context.Context, w Wallet, step *Step, sm *StatusManager, settings Settings) (Execution, error) {
	if step == nil || sm == nil {
		return Execution{}, clierr.New(clierr.CodeInternal, "missing step or status manager")
	}
	if w == nil {
		return Execution{}, clierr.New(clierr.CodeSigner, "missing wallet")
	}
	if _, err := sm.InitExecutionObject(step); err != nil {
		return Execution{}, err
	}
	if step.Execution.Status == StatusDone {
		return current(step), nil
	}

	fromChain, err := e.chain(ctx, step.Action.FromChainID)
	if err != nil {
		return current(step), ClassifyError(err, step, nil)
	}
	toChain, err := e.chain(ctx, step.Action.ToChainID)
	if err != nil {
		return current(step), ClassifyError(err, step, nil)
	}
	mainType := step.MainProcessType()

	existing, _ := step.Execution.FindProcess(mainType)
	if existing.TxHash == "" && !registry.IsNativeTokenAddress(step.Action.FromToken.Address) && e.opts.Allowance != nil {
		next, err := e.opts.Allowance.CheckAllowance(ctx, w, step, sm, settings, fromChain, e.interactionAllowed())
		if err != nil {
			return current(step), err
		}
		if next == nil {
			return current(step), nil
		}
		w = next
	}

	process, err := sm.FindOrCreateProcess(step, mainType, StatusStarted)
	if err != nil {
		return current(step), err
	}

	var receipt *types.Receipt
	if process.Status != StatusDone {
		outcome, err := e.runTransaction(ctx, w, step, sm, settings, fromChain, process)
		if err != nil {
			return current(step), err
		}
		if outcome.halted {
			e.logger.Info("step halted for user interaction", "step", step.ID, "process", mainType)
			return current(step), nil
		}
		process, receipt, w = outcome.process, outcome.receipt, outcome.wallet
	}

	if step.IsCrossChain() {
		return e.awaitDestination(ctx, step, sm, process, toChain)
	}
	return e.settleSameChain(ctx, w, step, sm, process, receipt, fromChain)
}

type txOutcome struct {
	process Process
	receipt *types.Receipt
	wallet  Wallet
	halted  bool
}

// runTransaction submits the step's transaction, or picks up the one already
// recorded on process, and waits for it to be mined.
func (e *StepExecutor) runTransaction(ctx context.Context, w Wallet, step *Step, sm *StatusManager, settings Settings, chain ChainInfo, process Process) (txOutcome, error) {
	t := process.Type
	var (
		tx  PendingTransaction
		err error
	)

	if process.TxHash != "" {
		next, err := SwitchChain(ctx, w, sm, step, e.interactionAllowed(), settings.SwitchChainHook)
		if err != nil {
			return txOutcome{process: process}, e.fail(step, sm, t, err)
		}
		if next == nil {
			return txOutcome{process: process, halted: true}, nil
		}
		w = next
		tx, err = w.Transaction(ctx, process.TxHash)
		if err != nil {
			return txOutcome{process: process}, e.fail(step, sm, t, err)
		}
	} else {
		// A step halted at the signing prompt resumes there with its payload.
		atPrompt := process.Status == StatusActionRequired && step.TransactionRequest != nil
		if !atPrompt {
			if process.Status != StatusStarted {
				if process, err = sm.UpdateProcess(step, t, StatusStarted, ProcessUpdate{}); err != nil {
					return txOutcome{process: process}, err
				}
			}
			if e.opts.Balance != nil {
				if err := e.opts.Balance.CheckBalance(ctx, w, step); err != nil {
					return txOutcome{process: process}, e.fail(step, sm, t, err)
				}
			}
			if step.TransactionRequest == nil {
				halted, err := e.refreshTransaction(ctx, step, sm, settings)
				if err != nil {
					return txOutcome{process: process}, e.fail(step, sm, t, err)
				}
				if halted {
					return txOutcome{process: process, halted: true}, nil
				}
			}
		}
		if step.TransactionRequest == nil {
			return txOutcome{process: process}, e.fail(step, sm, t, clierr.New(clierr.CodeTxUnprepared, "Unable to prepare transaction."))
		}
		if err := validateTransactionRequest(step, *step.TransactionRequest); err != nil {
			return txOutcome{process: process}, e.fail(step, sm, t, err)
		}

		next, err := SwitchChain(ctx, w, sm, step, e.interactionAllowed(), settings.SwitchChainHook)
		if err != nil {
			return txOutcome{process: process}, e.fail(step, sm, t, err)
		}
		if next == nil {
			return txOutcome{process: process, halted: true}, nil
		}
		w = next

		if process.Status != StatusActionRequired {
			if process, err = sm.UpdateProcess(step, t, StatusActionRequired, ProcessUpdate{}); err != nil {
				return txOutcome{process: process}, err
			}
		}
		if !e.interactionAllowed() {
			return txOutcome{process: process, halted: true}, nil
		}

		req := *step.TransactionRequest
		if settings.UpdateTransactionRequestHook != nil {
			custom, err := settings.UpdateTransactionRequestHook(ctx, req)
			if err != nil {
				return txOutcome{process: process}, e.fail(step, sm, t, err)
			}
			applyGasOverrides(&req, custom)
		} else {
			estimateGasFields(ctx, w, &req, e.logger)
		}

		tx, err = w.SendTransaction(ctx, req)
		if err != nil {
			return txOutcome{process: process}, e.fail(step, sm, t, err)
		}
		e.logger.Info("transaction submitted", "step", step.ID, "chain_id", step.Action.FromChainID, "tx_hash", tx.Hash())
		process, err = sm.UpdateProcess(step, t, StatusPending, ProcessUpdate{
			TxHash: tx.Hash(),
			TxLink: registry.ExplorerTxLink(chain.ExplorerURL(), tx.Hash()),
		})
		if err != nil {
			return txOutcome{process: process}, err
		}
	}

	receipt, err := e.wait(ctx, w, tx)
	var replaced *ReplacedError
	if errors.As(err, &replaced) {
		e.logger.Info("transaction replaced", "step", step.ID, "tx_hash", replaced.Hash, "replacement", replaced.Replacement, "reason", replaced.Reason)
		process, err = sm.UpdateProcess(step, t, StatusPending, ProcessUpdate{
			TxHash: replaced.Replacement,
			TxLink: registry.ExplorerTxLink(chain.ExplorerURL(), replaced.Replacement),
		})
		if err != nil {
			return txOutcome{process: process}, err
		}
		receipt = replaced.Receipt
		if receipt == nil {
			receipt, err = e.waitByHash(ctx, w, replaced.Replacement)
		}
	}
	if err != nil {
		return txOutcome{process: process}, e.fail(step, sm, t, err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return txOutcome{process: process}, e.fail(step, sm, t, clierr.New(clierr.CodeTxFailed, "Transaction was reverted on chain."))
	}

	process, err = sm.UpdateProcess(step, t, StatusDone, ProcessUpdate{})
	if err != nil {
		return txOutcome{process: process}, err
	}
	return txOutcome{process: process, receipt: receipt, wallet: w}, nil
}

// refreshTransaction fetches a transaction payload for step and checks the
// refreshed quote against the one the user saw.
func (e *StepExecutor) refreshTransaction(ctx context.Context, step *Step, sm *StatusManager, settings Settings) (bool, error) {
	if e.opts.API == nil {
		return false, clierr.New(clierr.CodeTxUnprepared, "Unable to prepare transaction.")
	}
	old := step.Clone()
	updated, err := e.opts.API.GetStepTransaction(ctx, old)
	if err != nil {
		return false, err
	}
	decision, err := compareQuote(ctx, old, updated, settings, e.interactionAllowed())
	if err != nil {
		return false, err
	}
	if decision == quoteHalt {
		return true, nil
	}
	_, err = sm.UpdateStep(step, StepUpdate{Estimate: &updated.Estimate, TransactionRequest: updated.TransactionRequest})
	return false, err
}

func (e *StepExecutor) awaitDestination(ctx context.Context, step *Step, sm *StatusManager, source Process, toChain ChainInfo) (Execution, error) {
	if _, err := sm.FindOrCreateProcess(step, ProcessReceivingChain, StatusPending); err != nil {
		return current(step), err
	}
	if source.TxHash == "" {
		return current(step), e.failReceiving(step, sm, source, clierr.New(clierr.CodeTxFailed, "Transaction hash is undefined."))
	}
	if e.opts.API == nil {
		return current(step), e.failReceiving(step, sm, source, clierr.New(clierr.CodeInternal, "missing routing api"))
	}

	resp, err := WaitForReceivingTransaction(ctx, e.opts.API, StatusRequest{
		Bridge:    step.Tool,
		FromChain: step.Action.FromChainID,
		ToChain:   step.Action.ToChainID,
		TxHash:    source.TxHash,
	}, e.opts.PollInterval, e.logger)
	if err != nil {
		return current(step), e.failReceiving(step, sm, source, err)
	}

	substatusMessage := resp.SubstatusMessage
	if substatusMessage == "" {
		substatusMessage = SubstatusMessage(resp.Status, resp.Substatus)
	}
	link := resp.Receiving.TxLink
	if link == "" {
		link = registry.ExplorerTxLink(toChain.ExplorerURL(), resp.Receiving.TxHash)
	}
	if _, err := sm.UpdateProcess(step, ProcessReceivingChain, StatusDone, ProcessUpdate{
		Substatus:        resp.Substatus,
		SubstatusMessage: substatusMessage,
		TxHash:           resp.Receiving.TxHash,
		TxLink:           link,
	}); err != nil {
		return current(step), err
	}

	settlement := settlementFromStatus(resp)
	exec, err := sm.UpdateExecution(step, StatusDone, &settlement)
	if err != nil {
		return current(step), err
	}
	e.logger.Info("step settled on destination chain", "step", step.ID, "to_chain_id", step.Action.ToChainID, "tx_hash", resp.Receiving.TxHash)
	return exec, nil
}

func (e *StepExecutor) settleSameChain(ctx context.Context, w Wallet, step *Step, sm *StatusManager, process Process, receipt *types.Receipt, chain ChainInfo) (Execution, error) {
	if receipt == nil {
		if process.TxHash == "" {
			return current(step), e.failExecution(step, sm, process, clierr.New(clierr.CodeTxFailed, "Transaction hash is undefined."))
		}
		var err error
		receipt, err = e.waitByHash(ctx, w, process.TxHash)
		var replaced *ReplacedError
		if errors.As(err, &replaced) && replaced.Receipt != nil {
			receipt, err = replaced.Receipt, nil
		}
		if err != nil {
			return current(step), e.failExecution(step, sm, process, err)
		}
	}

	settlement := receiptSettlement(step, receipt, chain)
	if e.opts.Receipts != nil {
		parsed, err := e.opts.Receipts.ParseReceipt(ctx, step, receipt)
		if err != nil {
			e.logger.Warn("could not parse swap receipt, using quoted amounts", "step", step.ID, "err", err)
		} else {
			settlement = overlaySettlement(settlement, parsed)
		}
	}
	exec, err := sm.UpdateExecution(step, StatusDone, &settlement)
	if err != nil {
		return current(step), err
	}
	e.logger.Info("step settled", "step", step.ID, "chain_id", step.Action.FromChainID, "tx_hash", process.TxHash)
	return exec, nil
}

func (e *StepExecutor) wait(ctx context.Context, w Wallet, tx PendingTransaction) (*types.Receipt, error) {
	if e.opts.TxWaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.TxWaitTimeout)
		defer cancel()
	}
	return tx.Wait(ctx)
}

func (e *StepExecutor) waitByHash(ctx context.Context, w Wallet, hash string) (*types.Receipt, error) {
	tx, err := w.Transaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	return e.wait(ctx, w, tx)
}

func (e *StepExecutor) chain(ctx context.Context, chainID int64) (ChainInfo, error) {
	if e.opts.Chains == nil {
		return ChainInfo{ID: chainID}, nil
	}
	return e.opts.Chains.Chain(ctx, chainID)
}

// fail records cause on process t and on the execution, then returns the
// classified error.
func (e *StepExecutor) fail(step *Step, sm *StatusManager, t ProcessType, cause error) error {
	process, ok := step.Execution.FindProcess(t)
	var procRef *Process
	if ok {
		procRef = &process
	}
	classified := ClassifyError(cause, step, procRef)
	if ok {
		_, _ = sm.UpdateProcess(step, t, StatusFailed, ProcessUpdate{Error: ProcessErrorFrom(classified)})
	}
	_, _ = sm.UpdateExecution(step, StatusFailed, nil)
	e.logger.Warn("step failed", "step", step.ID, "process", t, "code", clierr.TypeName(classified.Code), "err", cause)
	return classified
}

func (e *StepExecutor) failReceiving(step *Step, sm *StatusManager, source Process, cause error) error {
	classified := ClassifyError(cause, step, &source)
	if classified.Code != clierr.CodeServer {
		classified = ClassifyError(clierr.Wrap(clierr.CodeTxFailed, "Failed while waiting for receiving chain.", cause), step, &source)
	}
	_, _ = sm.UpdateProcess(step, ProcessReceivingChain, StatusFailed, ProcessUpdate{Error: ProcessErrorFrom(classified)})
	_, _ = sm.UpdateExecution(step, StatusFailed, nil)
	e.logger.Warn("waiting for receiving chain failed", "step", step.ID, "tx_hash", source.TxHash, "err", cause)
	return classified
}

// failExecution fails the step without touching an already completed process.
func (e *StepExecutor) failExecution(step *Step, sm *StatusManager, process Process, cause error) error {
	classified := ClassifyError(cause, step, &process)
	_, _ = sm.UpdateExecution(step, StatusFailed, nil)
	e.logger.Warn("step failed", "step", step.ID, "err", cause)
	return classified
}

func current(step *Step) Execution {
	if step == nil || step.Execution == nil {
		return Execution{}
	}
	return step.Execution.Clone()
}

func settlementFromStatus(resp StatusResponse) Settlement {
	out := Settlement{}
	if resp.Sending != nil {
		out.FromAmount = resp.Sending.Amount
		out.GasAmount = resp.Sending.GasAmount
		out.GasAmountUSD = resp.Sending.GasAmountUSD
		out.GasPrice = resp.Sending.GasPrice
		out.GasUsed = resp.Sending.GasUsed
		out.GasToken = resp.Sending.GasToken
	}
	if resp.Receiving != nil {
		out.ToAmount = resp.Receiving.Amount
		out.ToToken = resp.Receiving.Token
	}
	return out
}

// receiptSettlement fills settlement figures from the quote and the receipt's
// gas accounting.
func receiptSettlement(step *Step, receipt *types.Receipt, chain ChainInfo) Settlement {
	toToken := step.Action.ToToken
	out := Settlement{
		FromAmount: step.Action.FromAmount,
		ToAmount:   step.Estimate.ToAmount,
		ToToken:    &toToken,
	}
	if receipt == nil {
		return out
	}
	gasUsed := new(big.Int).SetUint64(receipt.GasUsed)
	out.GasUsed = gasUsed.String()
	if receipt.EffectiveGasPrice != nil {
		out.GasPrice = receipt.EffectiveGasPrice.String()
		out.GasAmount = new(big.Int).Mul(gasUsed, receipt.EffectiveGasPrice).String()
	}
	if chain.NativeToken.Symbol != "" {
		native := chain.NativeToken
		out.GasToken = &native
	}
	return out
}

func overlaySettlement(base, parsed Settlement) Settlement {
	if parsed.FromAmount != "" {
		base.FromAmount = parsed.FromAmount
	}
	if parsed.ToAmount != "" {
		base.ToAmount = parsed.ToAmount
	}
	if parsed.ToToken != nil {
		base.ToToken = parsed.ToToken
	}
	if parsed.GasAmount != "" {
		base.GasAmount = parsed.GasAmount
	}
	if parsed.GasAmountUSD != "" {
		base.GasAmountUSD = parsed.GasAmountUSD
	}
	if parsed.GasPrice != "" {
		base.GasPrice = parsed.GasPrice
	}
	if parsed.GasUsed != "" {
		base.GasUsed = parsed.GasUsed
	}
	if parsed.GasToken != nil {
		base.GasToken = parsed.GasToken
	}
	return base
}
