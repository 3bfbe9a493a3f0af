package app

import (
	"math"
	"strconv"
	"strings"

	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/id"
	"github.com/ggonzalez94/route-executor/internal/model"
)

func summarizeRoute(route execution.Route) model.RouteSummary {
	summary := model.RouteSummary{
		RouteID:     route.ID,
		Status:      execution.RouteStatus(route),
		FromChainID: id.ChainByID(route.FromChainID).CAIP2,
		ToChainID:   id.ChainByID(route.ToChainID).CAIP2,
		FromAsset:   tokenLabel(route.FromToken),
		ToAsset:     tokenLabel(route.ToToken),
		FromAmount:  amountInfo(route.FromAmount, route.FromToken.Decimals),
		ToAmount:    amountInfo(route.ToAmount, route.ToToken.Decimals),
		ToAmountMin: amountInfo(route.ToAmountMin, route.ToToken.Decimals),
		StepCount:   len(route.Steps),
		Tags:        route.Tags,
	}
	tools := make([]string, 0, len(route.Steps))
	var feeUSD, duration float64
	for _, step := range route.Steps {
		if step.Tool != "" {
			tools = append(tools, step.Tool)
		}
		for _, fee := range step.Estimate.FeeCosts {
			feeUSD += parseUSD(fee.AmountUSD)
		}
		for _, gas := range step.Estimate.GasCosts {
			feeUSD += parseUSD(gas.AmountUSD)
		}
		duration += step.Estimate.ExecutionDuration
	}
	summary.Tools = tools
	summary.FeeUSD = math.Round(feeUSD*100) / 100
	summary.DurationS = int64(math.Ceil(duration))
	return summary
}

func detailRoute(route execution.Route) model.RouteDetail {
	detail := model.RouteDetail{RouteSummary: summarizeRoute(route)}
	detail.Steps = make([]model.StepSummary, 0, len(route.Steps))
	for i, step := range route.Steps {
		item := model.StepSummary{
			Index:       i,
			StepID:      step.ID,
			Type:        string(step.Type),
			Tool:        step.Tool,
			FromChainID: id.ChainByID(step.Action.FromChainID).CAIP2,
			ToChainID:   id.ChainByID(step.Action.ToChainID).CAIP2,
			Status:      "NOT_STARTED",
			FromAmount:  amountInfo(step.Action.FromAmount, step.Action.FromToken.Decimals),
		}
		if step.Execution != nil {
			item.Status = string(step.Execution.Status)
			if step.Execution.ToAmount != "" {
				decimals := step.Action.ToToken.Decimals
				if step.Execution.ToToken != nil {
					decimals = step.Execution.ToToken.Decimals
				}
				received := amountInfo(step.Execution.ToAmount, decimals)
				item.ToAmount = &received
			}
			for _, proc := range step.Execution.Process {
				summary := model.ProcessSummary{
					Type:      string(proc.Type),
					Status:    string(proc.Status),
					Message:   proc.Message,
					TxHash:    proc.TxHash,
					TxLink:    proc.TxLink,
					Substatus: string(proc.Substatus),
				}
				if proc.Error != nil {
					summary.Error = firstNonEmpty(proc.Error.DisplayMessage, proc.Error.Message)
				}
				item.Processes = append(item.Processes, summary)
			}
		}
		detail.Steps = append(detail.Steps, item)
	}
	return detail
}

func amountInfo(baseUnits string, decimals int) model.AmountInfo {
	baseUnits = strings.TrimSpace(baseUnits)
	if baseUnits == "" {
		baseUnits = "0"
	}
	return model.AmountInfo{
		AmountBaseUnits: baseUnits,
		AmountDecimal:   id.FormatDecimalCompat(baseUnits, decimals),
		Decimals:        decimals,
	}
}

func tokenLabel(token execution.Token) string {
	if token.Symbol != "" {
		return token.Symbol
	}
	return strings.ToLower(token.Address)
}

func parseUSD(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
