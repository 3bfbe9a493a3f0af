package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
)

// applyGasOverrides copies only the gas fields returned by the caller's hook.
func applyGasOverrides(req *TransactionRequest, custom TransactionRequest) {
	req.GasLimit = custom.GasLimit
	req.GasPrice = custom.GasPrice
	req.MaxFeePerGas = custom.MaxFeePerGas
	req.MaxPriorityFeePerGas = custom.MaxPriorityFeePerGas
}

// estimateGasFields pads the gas limit by 25% and fills a legacy gas price when
// the request carries no fee fields. Estimation failures are only logged.
func estimateGasFields(ctx context.Context, w Wallet, req *TransactionRequest, logger *slog.Logger) {
	if estimated, err := w.EstimateGas(ctx, *req); err != nil {
		logger.Debug("gas estimation failed, keeping request gas limit", "err", err)
	} else if estimated != nil && estimated.Sign() > 0 {
		padded := new(big.Int).Mul(estimated, big.NewInt(125))
		padded.Div(padded, big.NewInt(100))
		req.GasLimit = padded.String()
	}

	if strings.TrimSpace(req.MaxFeePerGas) != "" {
		return
	}
	if price, err := w.GasPrice(ctx); err != nil {
		logger.Debug("gas price lookup failed, keeping request gas price", "err", err)
	} else if price != nil && price.Sign() > 0 {
		req.GasPrice = price.String()
	}
}

// ParseQuantity reads a hex ("0x..") or decimal quantity. Empty input is nil.
func ParseQuantity(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, nil
	}
	base := 10
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		clean = clean[2:]
		base = 16
		if clean == "" {
			return big.NewInt(0), nil
		}
	}
	out, ok := new(big.Int).SetString(clean, base)
	if !ok || out.Sign() < 0 {
		return nil, fmt.Errorf("invalid quantity %q", v)
	}
	return out, nil
}
