package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	testRouter  = "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE"
	testSender  = "0x00000000000000000000000000000000000000a1"
	testUSDC    = "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"
	testNative  = "0x0000000000000000000000000000000000000000"
	testPolygon = int64(137)
	testOP      = int64(10)
)

type fakeTx struct {
	hash    string
	receipt *types.Receipt
	err     error
}

func (t *fakeTx) Hash() string { return t.hash }

func (t *fakeTx) Wait(ctx context.Context) (*types.Receipt, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.receipt, nil
}

type fakeWallet struct {
	mu          sync.Mutex
	chainID     int64
	sendErr     error
	sendHash    string
	waitErr     error
	receipt     *types.Receipt
	known       map[string]*fakeTx
	estimate    *big.Int
	estimateErr error
	gasPrice    *big.Int
	gasPriceErr error

	sent    []TransactionRequest
	lookups []string
}

func newFakeWallet(chainID int64) *fakeWallet {
	return &fakeWallet{
		chainID:  chainID,
		sendHash: "0xfeed",
		receipt:  successReceipt(),
		known:    map[string]*fakeTx{},
	}
}

func successReceipt() *types.Receipt {
	return &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(30_000_000_000),
	}
}

func (w *fakeWallet) Address() common.Address { return common.HexToAddress(testSender) }

func (w *fakeWallet) ChainID(context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

func (w *fakeWallet) SendTransaction(_ context.Context, req TransactionRequest) (PendingTransaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return nil, w.sendErr
	}
	w.sent = append(w.sent, req)
	tx := &fakeTx{hash: w.sendHash, receipt: w.receipt, err: w.waitErr}
	w.known[tx.hash] = tx
	return tx, nil
}

func (w *fakeWallet) EstimateGas(context.Context, TransactionRequest) (*big.Int, error) {
	return w.estimate, w.estimateErr
}

func (w *fakeWallet) GasPrice(context.Context) (*big.Int, error) {
	return w.gasPrice, w.gasPriceErr
}

func (w *fakeWallet) Transaction(_ context.Context, hash string) (PendingTransaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lookups = append(w.lookups, hash)
	tx, ok := w.known[hash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", hash)
	}
	return tx, nil
}

func (w *fakeWallet) sentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sent)
}

type statusResult struct {
	resp StatusResponse
	err  error
}

type fakeAPI struct {
	mu          sync.Mutex
	stepTx      func(Step) (Step, error)
	statuses    []statusResult
	statusCalls int
	stepCalls   int
	requests    []StatusRequest
}

func (a *fakeAPI) GetStepTransaction(_ context.Context, step Step) (Step, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stepCalls++
	if a.stepTx == nil {
		return Step{}, errors.New("no step transaction configured")
	}
	return a.stepTx(step)
}

func (a *fakeAPI) GetStatus(_ context.Context, req StatusRequest) (StatusResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	idx := a.statusCalls
	a.statusCalls++
	if idx >= len(a.statuses) {
		idx = len(a.statuses) - 1
	}
	if idx < 0 {
		return StatusResponse{Status: "PENDING"}, nil
	}
	return a.statuses[idx].resp, a.statuses[idx].err
}

type fakeChains struct{}

func (fakeChains) Chain(_ context.Context, id int64) (ChainInfo, error) {
	switch id {
	case testPolygon:
		return ChainInfo{ID: id, Key: "pol", Name: "Polygon", NativeToken: Token{Symbol: "POL", Decimals: 18, Address: testNative, ChainID: id}, ExplorerURLs: []string{"https://polygonscan.com/"}}, nil
	case testOP:
		return ChainInfo{ID: id, Key: "opt", Name: "Optimism", NativeToken: Token{Symbol: "ETH", Decimals: 18, Address: testNative, ChainID: id}, ExplorerURLs: []string{"https://optimistic.etherscan.io/"}}, nil
	default:
		return ChainInfo{}, fmt.Errorf("unknown chain %d", id)
	}
}

type recorder struct {
	mu        sync.Mutex
	snapshots []Route
}

func (r *recorder) callback(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, route)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// processStatuses lists the distinct consecutive statuses of process t on
// step index idx across all notifications.
func (r *recorder) processStatuses(idx int, t ProcessType) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, snap := range r.snapshots {
		p, ok := snap.Steps[idx].Execution.FindProcess(t)
		if !ok {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != p.Status {
			out = append(out, p.Status)
		}
	}
	return out
}

func swapStep(id string) Step {
	return Step{
		ID:   id,
		Type: StepTypeSwap,
		Tool: "paraswap",
		Action: Action{
			FromChainID: testPolygon,
			ToChainID:   testPolygon,
			FromAmount:  "1000000000000000000",
			FromToken:   Token{Address: testNative, ChainID: testPolygon, Symbol: "POL", Decimals: 18},
			ToToken:     Token{Address: testUSDC, ChainID: testPolygon, Symbol: "USDC", Decimals: 6},
			FromAddress: testSender,
			Slippage:    0.005,
		},
		Estimate: Estimate{
			FromAmount:      "1000000000000000000",
			ToAmount:        "520000",
			ToAmountMin:     "517400",
			ApprovalAddress: testRouter,
		},
		TransactionRequest: &TransactionRequest{To: testRouter, Data: "0xdeadbeef", Value: "0xde0b6b3a7640000", ChainID: testPolygon},
	}
}

func bridgeStep(id string) Step {
	return Step{
		ID:   id,
		Type: StepTypeCross,
		Tool: "across",
		Action: Action{
			FromChainID: testPolygon,
			ToChainID:   testOP,
			FromAmount:  "1000000",
			FromToken:   Token{Address: testUSDC, ChainID: testPolygon, Symbol: "USDC", Decimals: 6},
			ToToken:     Token{Address: "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", ChainID: testOP, Symbol: "USDC", Decimals: 6},
			FromAddress: testSender,
			Slippage:    0.005,
		},
		Estimate: Estimate{
			FromAmount:      "1000000",
			ToAmount:        "998000",
			ToAmountMin:     "993000",
			ApprovalAddress: testRouter,
		},
	}
}

func doneStatus(toAmount string) StatusResponse {
	return StatusResponse{
		Status:    "DONE",
		Substatus: SubstatusCompleted,
		Sending: &TransactionInfo{
			TxHash:    "0xabc",
			Amount:    "1000000",
			ChainID:   testPolygon,
			GasUsed:   "90000",
			GasPrice:  "30000000000",
			GasAmount: "2700000000000000",
		},
		Receiving: &TransactionInfo{
			TxHash:  "0xdef",
			Amount:  toAmount,
			ChainID: testOP,
			Token:   &Token{Symbol: "USDC", Decimals: 6, ChainID: testOP},
		},
	}
}
