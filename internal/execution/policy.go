package execution

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/ggonzalez94/route-executor/internal/registry"
)

var (
	policyERC20ABI        = mustPolicyABI(registry.ERC20MinimalABI)
	policyApproveSelector = policyERC20ABI.Methods["approve"].ID
)

// validateTransactionRequest rejects payloads that do not belong to step
// before anything is signed.
func validateTransactionRequest(step *Step, req TransactionRequest) error {
	if !common.IsHexAddress(strings.TrimSpace(req.To)) {
		return clierr.New(clierr.CodeTxUnprepared, "transaction request has an invalid target address")
	}
	if req.ChainID != 0 && req.ChainID != step.Action.FromChainID {
		return clierr.New(clierr.CodeTxUnprepared, fmt.Sprintf("transaction request targets chain %d, step starts on %d", req.ChainID, step.Action.FromChainID))
	}
	if from := strings.TrimSpace(req.From); from != "" && step.Action.FromAddress != "" && !strings.EqualFold(from, step.Action.FromAddress) {
		return clierr.New(clierr.CodeTxUnprepared, "transaction request sender does not match the step's from address")
	}
	if spender := strings.TrimSpace(step.Estimate.ApprovalAddress); spender != "" && common.IsHexAddress(spender) &&
		common.HexToAddress(spender) != common.HexToAddress(req.To) {
		return clierr.New(clierr.CodeTxUnprepared, "transaction request target does not match the approved spender")
	}
	data, err := hexutil.Decode(normalizeHexData(req.Data))
	if err != nil {
		return clierr.Wrap(clierr.CodeTxUnprepared, "decode transaction calldata", err)
	}
	if len(data) >= 4 && bytes.Equal(data[:4], policyApproveSelector) {
		return clierr.New(clierr.CodeTxUnprepared, "transaction request is a bare token approval")
	}
	if _, err := ParseQuantity(req.Value); err != nil {
		return clierr.Wrap(clierr.CodeTxUnprepared, "parse transaction value", err)
	}
	return nil
}

func normalizeHexData(v string) string {
	clean := strings.TrimSpace(v)
	if clean == "" || clean == "0x" {
		return "0x"
	}
	if !strings.HasPrefix(clean, "0x") && !strings.HasPrefix(clean, "0X") {
		clean = "0x" + clean
	}
	if len(clean)%2 != 0 {
		clean = "0x0" + clean[2:]
	}
	return clean
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
