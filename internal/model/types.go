package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code           int    `json:"code"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	DisplayMessage string `json:"display_message,omitempty"`
	RPCCode        int    `json:"rpc_code,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// RouteSummary is the one-line view of a stored route.
type RouteSummary struct {
	RouteID     string     `json:"route_id"`
	Status      string     `json:"status"`
	FromChainID string     `json:"from_chain_id"`
	ToChainID   string     `json:"to_chain_id"`
	FromAsset   string     `json:"from_asset"`
	ToAsset     string     `json:"to_asset"`
	FromAmount  AmountInfo `json:"from_amount"`
	ToAmount    AmountInfo `json:"to_amount"`
	ToAmountMin AmountInfo `json:"to_amount_min"`
	Tools       []string   `json:"tools"`
	StepCount   int        `json:"step_count"`
	FeeUSD      float64    `json:"estimated_fee_usd"`
	DurationS   int64      `json:"estimated_time_s"`
	Tags        []string   `json:"tags,omitempty"`
}

type ProcessSummary struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	TxLink    string `json:"tx_link,omitempty"`
	Substatus string `json:"substatus,omitempty"`
	Error     string `json:"error,omitempty"`
}

type StepSummary struct {
	Index       int              `json:"index"`
	StepID      string           `json:"step_id"`
	Type        string           `json:"type"`
	Tool        string           `json:"tool"`
	FromChainID string           `json:"from_chain_id"`
	ToChainID   string           `json:"to_chain_id"`
	Status      string           `json:"status"`
	FromAmount  AmountInfo       `json:"from_amount"`
	ToAmount    *AmountInfo      `json:"to_amount,omitempty"`
	Processes   []ProcessSummary `json:"processes,omitempty"`
	Live        *LiveStatus      `json:"live,omitempty"`
}

// LiveStatus is the routing API's current view of a step's transfer.
type LiveStatus struct {
	Status           string `json:"status"`
	Substatus        string `json:"substatus,omitempty"`
	SubstatusMessage string `json:"substatus_message,omitempty"`
	ReceivingTxHash  string `json:"receiving_tx_hash,omitempty"`
	ReceivingTxLink  string `json:"receiving_tx_link,omitempty"`
}

// RouteDetail adds per-step progress to the summary.
type RouteDetail struct {
	RouteSummary
	Steps []StepSummary `json:"steps"`
}
