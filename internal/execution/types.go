package execution

import (
	"strings"
	"time"
)

// Status is shared by processes and executions. Executions only settle on
// PENDING, FAILED or DONE, but mirror the latest non-terminal process status
// while a step is in flight.
type Status string

const (
	StatusStarted        Status = "STARTED"
	StatusActionRequired Status = "ACTION_REQUIRED"
	StatusPending        Status = "PENDING"
	StatusDone           Status = "DONE"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
)

// Terminal reports whether s closes a process (and stamps doneAt).
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

func (s Status) valid() bool {
	switch s {
	case StatusStarted, StatusActionRequired, StatusPending, StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type ProcessType string

const (
	ProcessTokenAllowance ProcessType = "TOKEN_ALLOWANCE"
	ProcessSwitchChain    ProcessType = "SWITCH_CHAIN"
	ProcessSwap           ProcessType = "SWAP"
	ProcessCrossChain     ProcessType = "CROSS_CHAIN"
	ProcessReceivingChain ProcessType = "RECEIVING_CHAIN"
)

// Allows reports whether a process of type t may hold status s. Chain switches
// are never "started" by the engine and receiving-chain confirmation never asks
// the user for anything.
func (t ProcessType) Allows(s Status) bool {
	if !s.valid() {
		return false
	}
	switch t {
	case ProcessTokenAllowance, ProcessSwap, ProcessCrossChain:
		return true
	case ProcessSwitchChain:
		return s != StatusStarted
	case ProcessReceivingChain:
		return s != StatusStarted && s != StatusActionRequired
	default:
		return false
	}
}

type Substatus string

const (
	SubstatusWaitSourceConfirmations    Substatus = "WAIT_SOURCE_CONFIRMATIONS"
	SubstatusWaitDestinationTransaction Substatus = "WAIT_DESTINATION_TRANSACTION"
	SubstatusBridgeNotAvailable         Substatus = "BRIDGE_NOT_AVAILABLE"
	SubstatusChainNotAvailable          Substatus = "CHAIN_NOT_AVAILABLE"
	SubstatusNotProcessableRefundNeeded Substatus = "NOT_PROCESSABLE_REFUND_NEEDED"
	SubstatusRefundInProgress           Substatus = "REFUND_IN_PROGRESS"
	SubstatusUnknownError               Substatus = "UNKNOWN_ERROR"
	SubstatusCompleted                  Substatus = "COMPLETED"
	SubstatusPartial                    Substatus = "PARTIAL"
	SubstatusRefunded                   Substatus = "REFUNDED"
)

type StepType string

const (
	StepTypeSwap  StepType = "swap"
	StepTypeCross StepType = "cross"
	StepTypeLiFi  StepType = "lifi"
)

type Token struct {
	Address  string `json:"address"`
	ChainID  int64  `json:"chainId"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Name     string `json:"name,omitempty"`
	PriceUSD string `json:"priceUSD,omitempty"`
}

type Action struct {
	FromChainID int64   `json:"fromChainId"`
	FromAmount  string  `json:"fromAmount"`
	FromToken   Token   `json:"fromToken"`
	FromAddress string  `json:"fromAddress,omitempty"`
	ToChainID   int64   `json:"toChainId"`
	ToToken     Token   `json:"toToken"`
	ToAddress   string  `json:"toAddress,omitempty"`
	Slippage    float64 `json:"slippage"`
}

type FeeCost struct {
	Name       string `json:"name"`
	Percentage string `json:"percentage,omitempty"`
	Token      Token  `json:"token"`
	Amount     string `json:"amount"`
	AmountUSD  string `json:"amountUSD,omitempty"`
	Included   bool   `json:"included"`
}

type GasCost struct {
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Estimate  string `json:"estimate,omitempty"`
	Limit     string `json:"limit,omitempty"`
	Amount    string `json:"amount"`
	AmountUSD string `json:"amountUSD,omitempty"`
	Token     Token  `json:"token"`
}

type Estimate struct {
	Tool              string    `json:"tool,omitempty"`
	FromAmount        string    `json:"fromAmount"`
	ToAmount          string    `json:"toAmount"`
	ToAmountMin       string    `json:"toAmountMin"`
	ApprovalAddress   string    `json:"approvalAddress"`
	FeeCosts          []FeeCost `json:"feeCosts,omitempty"`
	GasCosts          []GasCost `json:"gasCosts,omitempty"`
	ExecutionDuration float64   `json:"executionDuration"`
}

// TransactionRequest is the unsigned payload returned by the routing API.
// Quantities are hex ("0x...") or decimal strings.
type TransactionRequest struct {
	From                 string `json:"from,omitempty"`
	To                   string `json:"to"`
	Data                 string `json:"data"`
	Value                string `json:"value,omitempty"`
	ChainID              int64  `json:"chainId,omitempty"`
	GasLimit             string `json:"gasLimit,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

type ProcessError struct {
	Code           string `json:"code"`
	RPCCode        int    `json:"rpcCode,omitempty"`
	Message        string `json:"message"`
	DisplayMessage string `json:"displayMessage,omitempty"`
}

type Process struct {
	Type             ProcessType   `json:"type"`
	Status           Status        `json:"status"`
	Message          string        `json:"message,omitempty"`
	StartedAt        time.Time     `json:"startedAt"`
	DoneAt           *time.Time    `json:"doneAt,omitempty"`
	TxHash           string        `json:"txHash,omitempty"`
	TxLink           string        `json:"txLink,omitempty"`
	Substatus        Substatus     `json:"substatus,omitempty"`
	SubstatusMessage string        `json:"substatusMessage,omitempty"`
	Error            *ProcessError `json:"error,omitempty"`
}

type Execution struct {
	Status       Status    `json:"status"`
	Process      []Process `json:"process"`
	FromAmount   string    `json:"fromAmount,omitempty"`
	ToAmount     string    `json:"toAmount,omitempty"`
	ToToken      *Token    `json:"toToken,omitempty"`
	GasAmount    string    `json:"gasAmount,omitempty"`
	GasAmountUSD string    `json:"gasAmountUSD,omitempty"`
	GasPrice     string    `json:"gasPrice,omitempty"`
	GasUsed      string    `json:"gasUsed,omitempty"`
	GasToken     *Token    `json:"gasToken,omitempty"`
}

// FindProcess returns the process of type t, if any.
func (e *Execution) FindProcess(t ProcessType) (Process, bool) {
	if e == nil {
		return Process{}, false
	}
	for _, p := range e.Process {
		if p.Type == t {
			return p, true
		}
	}
	return Process{}, false
}

func (e *Execution) processIndex(t ProcessType) int {
	for i := range e.Process {
		if e.Process[i].Type == t {
			return i
		}
	}
	return -1
}

type Step struct {
	ID                 string              `json:"id"`
	Type               StepType            `json:"type"`
	Tool               string              `json:"tool"`
	Action             Action              `json:"action"`
	Estimate           Estimate            `json:"estimate"`
	TransactionRequest *TransactionRequest `json:"transactionRequest,omitempty"`
	Execution          *Execution          `json:"execution,omitempty"`
}

// IsCrossChain reports whether the step moves funds between chains.
func (s *Step) IsCrossChain() bool {
	return s.Action.FromChainID != s.Action.ToChainID
}

// MainProcessType is the process that carries the step's own transaction.
func (s *Step) MainProcessType() ProcessType {
	if s.IsCrossChain() {
		return ProcessCrossChain
	}
	return ProcessSwap
}

type Route struct {
	ID            string   `json:"id"`
	FromChainID   int64    `json:"fromChainId"`
	FromAmountUSD string   `json:"fromAmountUSD,omitempty"`
	FromAmount    string   `json:"fromAmount"`
	FromToken     Token    `json:"fromToken"`
	FromAddress   string   `json:"fromAddress,omitempty"`
	ToChainID     int64    `json:"toChainId"`
	ToAmountUSD   string   `json:"toAmountUSD,omitempty"`
	ToAmount      string   `json:"toAmount"`
	ToAmountMin   string   `json:"toAmountMin"`
	ToToken       Token    `json:"toToken"`
	ToAddress     string   `json:"toAddress,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Steps         []Step   `json:"steps"`
}

// Settlement carries the realised figures written on a terminal execution update.
type Settlement struct {
	FromAmount   string
	ToAmount     string
	ToToken      *Token
	GasAmount    string
	GasAmountUSD string
	GasPrice     string
	GasUsed      string
	GasToken     *Token
}

// ProcessUpdate lists the fields a process transition may set. Empty fields
// leave the current value untouched.
type ProcessUpdate struct {
	Message          string
	TxHash           string
	TxLink           string
	Substatus        Substatus
	SubstatusMessage string
	Error            *ProcessError
}

// StepUpdate lists the step fields the engine may replace after creation.
type StepUpdate struct {
	Estimate                *Estimate
	TransactionRequest      *TransactionRequest
	ClearTransactionRequest bool
	FromAmount              string
}

// Clone returns a deep copy of the route.
func (r Route) Clone() Route {
	out := r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	if r.Steps != nil {
		out.Steps = make([]Step, len(r.Steps))
		for i := range r.Steps {
			out.Steps[i] = r.Steps[i].Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	out.Estimate = s.Estimate.clone()
	if s.TransactionRequest != nil {
		req := *s.TransactionRequest
		out.TransactionRequest = &req
	}
	if s.Execution != nil {
		exec := s.Execution.Clone()
		out.Execution = &exec
	}
	return out
}

// Clone returns a deep copy of the execution.
func (e Execution) Clone() Execution {
	out := e
	if e.Process != nil {
		out.Process = make([]Process, len(e.Process))
		for i := range e.Process {
			out.Process[i] = e.Process[i].clone()
		}
	}
	if e.ToToken != nil {
		token := *e.ToToken
		out.ToToken = &token
	}
	if e.GasToken != nil {
		token := *e.GasToken
		out.GasToken = &token
	}
	return out
}

func (p Process) clone() Process {
	out := p
	if p.DoneAt != nil {
		doneAt := *p.DoneAt
		out.DoneAt = &doneAt
	}
	if p.Error != nil {
		procErr := *p.Error
		out.Error = &procErr
	}
	return out
}

func (e Estimate) clone() Estimate {
	out := e
	if e.FeeCosts != nil {
		out.FeeCosts = append([]FeeCost(nil), e.FeeCosts...)
	}
	if e.GasCosts != nil {
		out.GasCosts = append([]GasCost(nil), e.GasCosts...)
	}
	return out
}

func sameStep(a, b *Step) bool {
	return strings.TrimSpace(a.ID) != "" && a.ID == b.ID
}
