package execution

import (
	"context"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

// WithinSlippage reports whether updated still honours the minimum output the
// user accepted for old: either toAmountMin did not drop, or it dropped by no
// more than the step's slippage fraction.
func WithinSlippage(old, updated Step) bool {
	oldMin, ok := new(big.Int).SetString(strings.TrimSpace(old.Estimate.ToAmountMin), 10)
	if !ok || oldMin.Sign() <= 0 {
		return true
	}
	newMin, ok := new(big.Int).SetString(strings.TrimSpace(updated.Estimate.ToAmountMin), 10)
	if !ok {
		return false
	}
	if newMin.Cmp(oldMin) >= 0 {
		return true
	}
	drop := new(big.Rat).SetFrac(new(big.Int).Sub(oldMin, newMin), oldMin)
	limit := new(big.Rat)
	limit.SetFloat64(old.Action.Slippage)
	return drop.Cmp(limit) <= 0
}

type quoteDecision int

const (
	quoteAccepted quoteDecision = iota
	quoteHalt
)

// compareQuote accepts a refreshed quote within slippage. Outside it, the
// caller's hook decides, and a decline fails with CodeRateChanged. Without
// interaction the executor halts so the user can be asked later.
func compareQuote(ctx context.Context, old, updated Step, settings Settings, allowInteraction bool) (quoteDecision, error) {
	if WithinSlippage(old, updated) {
		return quoteAccepted, nil
	}
	if !allowInteraction {
		return quoteHalt, nil
	}
	if settings.AcceptExchangeRateUpdateHook == nil {
		return quoteHalt, clierr.New(clierr.CodeRateChanged, "Exchange rate has changed!")
	}
	accepted, err := settings.AcceptExchangeRateUpdateHook(ctx, old, updated)
	if err != nil {
		return quoteHalt, err
	}
	if !accepted {
		return quoteHalt, clierr.New(clierr.CodeRateChanged, "Exchange rate has changed!")
	}
	return quoteAccepted, nil
}
