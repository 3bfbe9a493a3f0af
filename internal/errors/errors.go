package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeBlocked       Code = 16
	CodeSigner        Code = 17
	CodeNotFound      Code = 18
	CodeBalance       Code = 19
	CodeUserRejected  Code = 20
	CodeRPC           Code = 21
	CodeProvider      Code = 22
	CodeTxUnprepared  Code = 23
	CodeTxFailed      Code = 24
	CodeServer        Code = 25
	CodeRateChanged   Code = 26
	CodeChainSwitch   Code = 27
	CodeActionPending Code = 28
)

// Error is a typed CLI error that carries a stable error code.
//
// Errors produced by the execution classifier also carry the provider's numeric
// RPC code (when one was reported) and a display message enriched with step context.
type Error struct {
	Code    Code
	Message string
	Cause   error
	RPCCode int
	Display string
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// DisplayMessage returns the presentation-ready message, falling back to Message.
func (e *Error) DisplayMessage() string {
	if e.Display != "" {
		return e.Display
	}
	return e.Message
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// TypeName is the stable string used in the JSON error envelope.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "provider_unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeBlocked:
		return "command_blocked"
	case CodeSigner:
		return "signer_error"
	case CodeNotFound:
		return "not_found"
	case CodeBalance:
		return "balance_error"
	case CodeUserRejected:
		return "user_rejected"
	case CodeRPC:
		return "rpc_error"
	case CodeProvider:
		return "provider_error"
	case CodeTxUnprepared:
		return "transaction_unprepared"
	case CodeTxFailed:
		return "transaction_failed"
	case CodeServer:
		return "server_error"
	case CodeRateChanged:
		return "exchange_rate_changed"
	case CodeChainSwitch:
		return "chain_switch_required"
	case CodeActionPending:
		return "action_pending"
	default:
		return "internal_error"
	}
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
