package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/id"
)

const unknownErrorMessage = "Unknown error occurred"

// Wallet (EIP-1193) and JSON-RPC error codes.
const (
	rpcCodeUserRejected        = 4001
	rpcCodeUnauthorized        = 4100
	rpcCodeUnsupportedMethod   = 4200
	rpcCodeDisconnected        = 4900
	rpcCodeChainDisconnected   = 4901
	rpcCodeExecutionReverted   = 3
	rpcCodeRangeLow            = -32768
	rpcCodeRangeHigh           = -32000
	rpcCodeTransactionRejected = -32003
)

// ClassifyError maps any failure onto the closed error taxonomy. step and
// process are optional and only enrich the display message. It never panics
// and returns nil only for a nil err.
func ClassifyError(err error, step *Step, process *Process) *clierr.Error {
	if err == nil {
		return nil
	}
	classified := classify(err)
	if classified.Display == "" {
		classified.Display = displayMessage(classified, step, process)
	}
	return classified
}

func classify(err error) *clierr.Error {
	if typed, ok := clierr.As(err); ok {
		out := *typed
		out.Code = taxonomyCode(typed.Code)
		if strings.TrimSpace(out.Message) == "" {
			out.Message = unknownErrorMessage
		}
		return &out
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return classifyRPC(rpcErr, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied"):
		return &clierr.Error{Code: clierr.CodeUserRejected, Message: err.Error(), Cause: err, RPCCode: rpcCodeUserRejected}
	case errors.Is(err, ethereum.NotFound):
		return clierr.Wrap(clierr.CodeTxFailed, "Transaction could not be found on chain.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return clierr.Wrap(clierr.CodeInternal, "Timed out waiting for the operation to complete.", err)
	case errors.Is(err, context.Canceled):
		return clierr.Wrap(clierr.CodeInternal, "Operation was cancelled.", err)
	}

	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = unknownErrorMessage
	}
	return &clierr.Error{Code: clierr.CodeInternal, Message: message, Cause: err}
}

// taxonomyCode folds CLI-only codes onto the codes a failed process may carry.
func taxonomyCode(code clierr.Code) clierr.Code {
	switch code {
	case clierr.CodeUserRejected, clierr.CodeRPC, clierr.CodeProvider, clierr.CodeTxUnprepared,
		clierr.CodeTxFailed, clierr.CodeServer, clierr.CodeInternal, clierr.CodeRateChanged,
		clierr.CodeChainSwitch, clierr.CodeBalance, clierr.CodeActionPending:
		return code
	case clierr.CodeRateLimited, clierr.CodeUnavailable, clierr.CodeAuth:
		return clierr.CodeServer
	default:
		return clierr.CodeInternal
	}
}

func classifyRPC(rpcErr rpc.Error, err error) *clierr.Error {
	code := rpcErr.ErrorCode()
	message := strings.TrimSpace(rpcErr.Error())
	lower := strings.ToLower(message)
	switch {
	case code == rpcCodeUserRejected:
		return &clierr.Error{Code: clierr.CodeUserRejected, Message: message, Cause: err, RPCCode: code}
	case code == rpcCodeUnauthorized || code == rpcCodeUnsupportedMethod || code == rpcCodeDisconnected || code == rpcCodeChainDisconnected:
		return &clierr.Error{Code: clierr.CodeProvider, Message: message, Cause: err, RPCCode: code}
	case code == rpcCodeExecutionReverted:
		reason := "Transaction was reverted."
		if decoded, ok := revertReason(err); ok {
			reason = "Transaction was reverted: " + decoded
		}
		return &clierr.Error{Code: clierr.CodeTxFailed, Message: reason, Cause: err, RPCCode: code}
	case code >= rpcCodeRangeLow && code <= rpcCodeRangeHigh:
		switch {
		case strings.Contains(lower, "underpriced"):
			message = "Transaction is underpriced."
		case strings.Contains(lower, "intrinsic gas too low") || strings.Contains(lower, "gas too low") || strings.Contains(lower, "out of gas"):
			message = "Gas limit is too low."
		case code == rpcCodeTransactionRejected && strings.Contains(lower, "nonce"):
			message = "Transaction nonce is invalid."
		case strings.Contains(lower, "execution reverted"):
			if decoded, ok := revertReason(err); ok {
				message = "Transaction was reverted: " + decoded
			}
		}
		if message == "" {
			message = unknownErrorMessage
		}
		return &clierr.Error{Code: clierr.CodeRPC, Message: message, Cause: err, RPCCode: code}
	default:
		if message == "" {
			message = unknownErrorMessage
		}
		return &clierr.Error{Code: clierr.CodeInternal, Message: message, Cause: err, RPCCode: code}
	}
}

// revertReason decodes an Error(string) payload attached to an RPC error.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok || raw == "" {
		return "", false
	}
	data, decodeErr := hexutil.Decode(raw)
	if decodeErr != nil {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil || reason == "" {
		return "", false
	}
	return reason, true
}

func displayMessage(e *clierr.Error, step *Step, process *Process) string {
	link := ""
	if process != nil {
		link = process.TxLink
	}
	if step == nil {
		return withLink(e.Message, link, "You can check the transaction here:")
	}
	switch e.Code {
	case clierr.CodeUserRejected, clierr.CodeRPC, clierr.CodeProvider, clierr.CodeTxUnprepared,
		clierr.CodeRateChanged, clierr.CodeBalance, clierr.CodeChainSwitch:
		return withLink(transactionNotSentMessage(step), link, "You can check the failed transaction here:")
	case clierr.CodeTxFailed:
		return withLink(transactionFailedMessage(step), link, "You can also check the block explorer for more information:")
	default:
		return withLink(e.Message, link, "You can check the transaction here:")
	}
}

func transactionNotSentMessage(step *Step) string {
	amount := id.FormatFixed(step.Action.FromAmount, step.Action.FromToken.Decimals, 4)
	return fmt.Sprintf(
		"Transaction was not sent, your funds are still in your wallet (%s %s on %s), please retry. If it still doesn't work, it is safe to delete this transfer and start a new one.",
		amount, step.Action.FromToken.Symbol, id.ChainName(step.Action.FromChainID),
	)
}

func transactionFailedMessage(step *Step) string {
	return fmt.Sprintf(
		"It appears that your transaction may not have been successful. However, to confirm this, please check your %s wallet for %s.",
		id.ChainName(step.Action.ToChainID), step.Action.ToToken.Symbol,
	)
}

func withLink(message, link, lead string) string {
	if strings.TrimSpace(link) == "" {
		return message
	}
	return message + " " + lead + " " + link
}

// ProcessErrorFrom converts a classified error into the record stored on a
// failed Process.
func ProcessErrorFrom(e *clierr.Error) *ProcessError {
	if e == nil {
		return nil
	}
	return &ProcessError{
		Code:           clierr.TypeName(e.Code),
		RPCCode:        e.RPCCode,
		Message:        e.Message,
		DisplayMessage: e.DisplayMessage(),
	}
}
