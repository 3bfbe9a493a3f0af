package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/route-executor/internal/execution"
	"github.com/ggonzalez94/route-executor/internal/registry"
)

var erc20ABI = mustABI(registry.ERC20MinimalABI)

// ReceiptParser reads realised swap amounts from ERC-20 Transfer logs.
type ReceiptParser struct{}

var _ execution.ReceiptParser = ReceiptParser{}

func (ReceiptParser) ParseReceipt(_ context.Context, step *execution.Step, receipt *types.Receipt) (execution.Settlement, error) {
	if step == nil || receipt == nil {
		return execution.Settlement{}, fmt.Errorf("missing step or receipt")
	}
	sender := common.HexToAddress(step.Action.FromAddress)
	recipient := sender
	if strings.TrimSpace(step.Action.ToAddress) != "" {
		recipient = common.HexToAddress(step.Action.ToAddress)
	}

	out := execution.Settlement{}
	if !registry.IsNativeTokenAddress(step.Action.FromToken.Address) {
		sent, err := sumTransfers(receipt.Logs, common.HexToAddress(step.Action.FromToken.Address), &sender, nil)
		if err != nil {
			return execution.Settlement{}, err
		}
		if sent.Sign() > 0 {
			out.FromAmount = sent.String()
		}
	}
	if registry.IsNativeTokenAddress(step.Action.ToToken.Address) {
		return out, nil
	}
	received, err := sumTransfers(receipt.Logs, common.HexToAddress(step.Action.ToToken.Address), nil, &recipient)
	if err != nil {
		return execution.Settlement{}, err
	}
	if received.Sign() == 0 {
		return execution.Settlement{}, fmt.Errorf("no %s transfer to %s in receipt %s", step.Action.ToToken.Symbol, recipient.Hex(), receipt.TxHash.Hex())
	}
	out.ToAmount = received.String()
	toToken := step.Action.ToToken
	out.ToToken = &toToken
	return out, nil
}

// sumTransfers adds up Transfer events emitted by token, filtered by sender
// and/or recipient when given.
func sumTransfers(logs []*types.Log, token common.Address, from, to *common.Address) (*big.Int, error) {
	event := erc20ABI.Events["Transfer"]
	total := new(big.Int)
	for _, lg := range logs {
		if lg == nil || lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != event.ID {
			continue
		}
		if from != nil && common.BytesToAddress(lg.Topics[1].Bytes()) != *from {
			continue
		}
		if to != nil && common.BytesToAddress(lg.Topics[2].Bytes()) != *to {
			continue
		}
		values, err := erc20ABI.Unpack("Transfer", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("decode transfer log: %w", err)
		}
		value, ok := values[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("decode transfer log: unexpected value type %T", values[0])
		}
		total.Add(total, value)
	}
	return total, nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
