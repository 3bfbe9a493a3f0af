package execution

var processMessages = map[ProcessType]map[Status]string{
	ProcessTokenAllowance: {
		StatusStarted:        "Setting token allowance.",
		StatusActionRequired: "Please approve the token allowance.",
		StatusPending:        "Waiting for token allowance approval.",
		StatusDone:           "Token allowance approved.",
	},
	ProcessSwitchChain: {
		StatusActionRequired: "Chain switch required.",
		StatusPending:        "Chain switch required.",
		StatusDone:           "Chain switched successfully.",
	},
	ProcessSwap: {
		StatusStarted:        "Preparing swap.",
		StatusActionRequired: "Please sign the transaction.",
		StatusPending:        "Swapping.",
		StatusDone:           "Swap completed.",
	},
	ProcessCrossChain: {
		StatusStarted:        "Preparing transaction.",
		StatusActionRequired: "Please sign the transaction.",
		StatusPending:        "Waiting for transaction.",
		StatusDone:           "Transaction approved.",
	},
	ProcessReceivingChain: {
		StatusPending: "Waiting for receiving chain.",
		StatusDone:    "Funds received.",
	},
}

// ProcessMessage is the default human message for a process in a status, or
// "" when none is defined.
func ProcessMessage(t ProcessType, s Status) string {
	return processMessages[t][s]
}

var substatusMessages = map[string]map[Substatus]string{
	"PENDING": {
		SubstatusBridgeNotAvailable:         "Bridge communication is temporarily unavailable.",
		SubstatusChainNotAvailable:          "RPC communication is temporarily unavailable.",
		SubstatusNotProcessableRefundNeeded: "The transfer cannot be completed successfully. A refund operation is required.",
		SubstatusUnknownError:               "An unexpected error occurred. Please seek assistance from the bridge operator.",
		SubstatusWaitSourceConfirmations:    "The bridge is waiting for additional confirmations.",
		SubstatusWaitDestinationTransaction: "The bridge off-chain logic is being executed. Wait for the transaction to appear on the destination chain.",
		SubstatusRefundInProgress:           "The refund has been requested and it's being processed.",
	},
	"DONE": {
		SubstatusPartial:   "Some of the received tokens are not the requested destination tokens.",
		SubstatusRefunded:  "The tokens were refunded to the sender address.",
		SubstatusCompleted: "The transfer is complete.",
	},
}

// SubstatusMessage describes a destination status substatus when the status
// API sent no message of its own.
func SubstatusMessage(status string, substatus Substatus) string {
	if substatus == "" {
		return ""
	}
	return substatusMessages[status][substatus]
}
