package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/route-executor/internal/errors"
	"github.com/google/go-cmp/cmp"
)

func testExecutor(api RoutingAPI) *StepExecutor {
	opts := DefaultExecutorOptions()
	opts.API = api
	opts.Chains = fakeChains{}
	opts.PollInterval = time.Millisecond
	opts.TxWaitTimeout = time.Second
	return NewStepExecutor(opts)
}

func TestExecuteSameChainSwap(t *testing.T) {
	step := swapStep("s1")
	sm, rec := newManager(t, step)
	wallet := newFakeWallet(testPolygon)

	exec, err := testExecutor(&fakeAPI{}).Execute(context.Background(), wallet, &step, sm, Settings{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Status != StatusDone {
		t.Fatalf("expected DONE, got %s", exec.Status)
	}
	want := []Status{StatusStarted, StatusActionRequired, StatusPending, StatusDone}
	if diff := cmp.Diff(want, rec.processStatuses(0, ProcessSwap)); diff != "" {
		t.Fatalf("swap process statuses mismatch (-want +got):\n%s", diff)
	}
	if wallet.sentCount() != 1 || wallet.sent[0].To != testRouter {
		t.Fatalf("expected one transaction to the router, got %+v", wallet.sent)
	}

	p, _ := exec.FindProcess(ProcessSwap)
	if p.TxHash != "0xfeed" || p.TxLink != "https://polygonscan.com/tx/0xfeed" {
		t.Fatalf("unexpected swap process: %+v", p)
	}
	if exec.FromAmount != "1000000000000000000" || exec.ToAmount != "520000" {
		t.Fatalf("unexpected amounts: from=%s to=%s", exec.FromAmount, exec.ToAmount)
	}
	if exec.GasUsed != "21000" || exec.GasPrice != "30000000000" || exec.GasAmount != "630000000000000" {
		t.Fatalf("unexpected gas figures: %+v", exec)
	}
	if exec.GasToken == nil || exec.GasToken.Symbol != "POL" {
		t.Fatalf("expected POL gas token, got %+v", exec.GasToken)
	}
	if step.Execution == nil || step.Execution.Status != StatusDone {
		t.Fatal("expected the caller's step to carry the final execution")
	}
}

func TestExecuteResumesCrossChainWithoutResending(t *testing.T) {
	step := bridgeStep("b1")
	step.Execution = &Execution{
		Status:  StatusPending,
		Process: []Process{{Type: ProcessCrossChain, Status: StatusPending, TxHash: "0xabc", StartedAt: time.Unix(1700000000, 0)}},
	}
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	wallet.known["0xabc"] = &fakeTx{hash: "0xabc", receipt: successReceipt()}
	api := &fakeAPI{statuses: []statusResult{
		{resp: StatusResponse{Status: "PENDING", Substatus: SubstatusWaitDestinationTransaction}},
		{resp: doneStatus("998000")},
	}}

	exec, err := testExecutor(api).Execute(context.Background(), wallet, &step, sm, Settings{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if wallet.sentCount() != 0 {
		t.Fatalf("resume must not resend, sent %d", wallet.sentCount())
	}
	if diff := cmp.Diff([]string{"0xabc"}, wallet.lookups); diff != "" {
		t.Fatalf("lookups mismatch (-want +got):\n%s", diff)
	}
	if api.statusCalls != 2 {
		t.Fatalf("expected 2 status calls, got %d", api.statusCalls)
	}
	if exec.Status != StatusDone || exec.ToAmount != "998000" {
		t.Fatalf("unexpected execution: %+v", exec)
	}
	receiving, ok := exec.FindProcess(ProcessReceivingChain)
	if !ok || receiving.Status != StatusDone || receiving.TxHash != "0xdef" {
		t.Fatalf("unexpected receiving process: %+v", receiving)
	}
	if receiving.TxLink != "https://optimistic.etherscan.io/tx/0xdef" {
		t.Fatalf("expected destination explorer link, got %q", receiving.TxLink)
	}
	if receiving.Substatus != SubstatusCompleted || receiving.SubstatusMessage == "" {
		t.Fatalf("expected completed substatus, got %+v", receiving)
	}
}

func TestExecuteCrossChainFetchesTransaction(t *testing.T) {
	step := bridgeStep("b1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	api := &fakeAPI{
		stepTx: func(s Step) (Step, error) {
			s.TransactionRequest = &TransactionRequest{To: testRouter, Data: "0x1234abcd", ChainID: testPolygon}
			return s, nil
		},
		statuses: []statusResult{{resp: doneStatus("998000")}},
	}

	exec, err := testExecutor(api).Execute(context.Background(), wallet, &step, sm, Settings{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if api.stepCalls != 1 || wallet.sentCount() != 1 {
		t.Fatalf("expected one refresh and one send, got %d/%d", api.stepCalls, wallet.sentCount())
	}
	if wallet.sent[0].Data != "0x1234abcd" {
		t.Fatalf("expected refreshed payload, got %+v", wallet.sent[0])
	}
	if exec.Status != StatusDone {
		t.Fatalf("expected DONE, got %s", exec.Status)
	}
	var got []ProcessType
	for _, p := range exec.Process {
		got = append(got, p.Type)
	}
	if diff := cmp.Diff([]ProcessType{ProcessCrossChain, ProcessReceivingChain}, got); diff != "" {
		t.Fatalf("process list mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteHaltsAtSigningPromptAndResumes(t *testing.T) {
	step := swapStep("s1")
	sm, rec := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	executor := testExecutor(&fakeAPI{})

	executor.AllowInteraction(false)
	exec, err := executor.Execute(context.Background(), wallet, &step, sm, Settings{})
	if err != nil {
		t.Fatalf("halted execute: %v", err)
	}
	if exec.Status != StatusActionRequired || wallet.sentCount() != 0 {
		t.Fatalf("expected halt at ACTION_REQUIRED without sending, got %s sent=%d", exec.Status, wallet.sentCount())
	}

	executor.AllowInteraction(true)
	exec, err = executor.Execute(context.Background(), wallet, &step, sm, Settings{})
	if err != nil {
		t.Fatalf("resumed execute: %v", err)
	}
	if exec.Status != StatusDone || wallet.sentCount() != 1 {
		t.Fatalf("expected DONE after one send, got %s sent=%d", exec.Status, wallet.sentCount())
	}
	want := []Status{StatusStarted, StatusActionRequired, StatusPending, StatusDone}
	if diff := cmp.Diff(want, rec.processStatuses(0, ProcessSwap)); diff != "" {
		t.Fatalf("swap process statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteStoppedExecutorHalts(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	executor := testExecutor(&fakeAPI{})
	executor.StopExecution()

	exec, err := executor.Execute(context.Background(), wallet, &step, sm, Settings{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !executor.Stopped() || exec.Status != StatusActionRequired || wallet.sentCount() != 0 {
		t.Fatalf("expected stopped executor to halt, got %s sent=%d", exec.Status, wallet.sentCount())
	}
}

func TestExecuteFollowsReplacement(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	wallet.waitErr = &ReplacedError{Hash: "0xfeed", Replacement: "0xbeef", Reason: ReplacementRepriced, Receipt: successReceipt()}

	exec, err := testExecutor(&fakeAPI{}).Execute(context.Background(), wallet, &step, sm, Settings{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	p, _ := exec.FindProcess(ProcessSwap)
	if exec.Status != StatusDone || p.TxHash != "0xbeef" || p.TxLink != "https://polygonscan.com/tx/0xbeef" {
		t.Fatalf("expected replacement to be tracked, got %+v", p)
	}
}

func TestExecuteClassifiesSendError(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	wallet.sendErr = &fakeRPCError{code: 4001, msg: "User rejected the request."}

	exec, err := testExecutor(&fakeAPI{}).Execute(context.Background(), wallet, &step, sm, Settings{})
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeUserRejected {
		t.Fatalf("expected user rejected, got %v", err)
	}
	if exec.Status != StatusFailed {
		t.Fatalf("expected FAILED execution, got %s", exec.Status)
	}
	p, _ := exec.FindProcess(ProcessSwap)
	if p.Status != StatusFailed || p.Error == nil || p.Error.Code != "user_rejected" || p.Error.RPCCode != 4001 {
		t.Fatalf("unexpected failed process: %+v", p)
	}
	if !strings.Contains(p.Error.DisplayMessage, "Transaction was not sent") {
		t.Fatalf("unexpected display message: %q", p.Error.DisplayMessage)
	}
	if p.DoneAt == nil {
		t.Fatal("failed process must carry doneAt")
	}
}

func TestExecuteClassifiesRejectedChainSwitch(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testOP)
	hookErr := errors.New("User rejected the request.")
	settings := Settings{SwitchChainHook: func(context.Context, int64) (Wallet, error) {
		return nil, hookErr
	}}

	exec, err := testExecutor(&fakeAPI{}).Execute(context.Background(), wallet, &step, sm, settings)
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeUserRejected {
		t.Fatalf("expected classified user rejection, got %T %v", err, err)
	}
	if !errors.Is(err, hookErr) {
		t.Fatal("expected the hook error as cause")
	}
	if !strings.Contains(cliErr.DisplayMessage(), "Transaction was not sent") {
		t.Fatalf("unexpected display message: %q", cliErr.DisplayMessage())
	}
	if exec.Status != StatusFailed || wallet.sentCount() != 0 {
		t.Fatalf("expected failure without sending, got %s sent=%d", exec.Status, wallet.sentCount())
	}
	swap, _ := exec.FindProcess(ProcessSwap)
	if swap.Status != StatusFailed || swap.Error == nil || swap.Error.Code != "user_rejected" {
		t.Fatalf("expected failed swap process, got %+v", swap)
	}
	if sw, _ := exec.FindProcess(ProcessSwitchChain); sw.Status != StatusFailed {
		t.Fatalf("expected failed switch process, got %+v", sw)
	}
}

func TestExecuteFoldsCLICodesIntoTaxonomy(t *testing.T) {
	step := bridgeStep("b1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	api := &fakeAPI{stepTx: func(Step) (Step, error) {
		return Step{}, clierr.New(clierr.CodeRateLimited, "lifi rate limited")
	}}
	exec, err := testExecutor(api).Execute(context.Background(), wallet, &step, sm, Settings{})
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeServer {
		t.Fatalf("expected server error, got %v", err)
	}
	p, _ := exec.FindProcess(ProcessCrossChain)
	if p.Error == nil || p.Error.Code != "server_error" {
		t.Fatalf("unexpected process error: %+v", p.Error)
	}
}

func TestExecuteRateChangeDeclined(t *testing.T) {
	step := bridgeStep("b1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	api := &fakeAPI{stepTx: func(s Step) (Step, error) {
		s.Estimate.ToAmountMin = "900000"
		s.TransactionRequest = &TransactionRequest{To: testRouter, Data: "0x1234abcd", ChainID: testPolygon}
		return s, nil
	}}
	var asked bool
	settings := Settings{AcceptExchangeRateUpdateHook: func(_ context.Context, old, updated Step) (bool, error) {
		asked = old.Estimate.ToAmountMin == "993000" && updated.Estimate.ToAmountMin == "900000"
		return false, nil
	}}

	exec, err := testExecutor(api).Execute(context.Background(), wallet, &step, sm, settings)
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeRateChanged {
		t.Fatalf("expected rate changed, got %v", err)
	}
	if !asked {
		t.Fatal("expected the hook to see both quotes")
	}
	if exec.Status != StatusFailed || wallet.sentCount() != 0 {
		t.Fatalf("expected failure without sending, got %s sent=%d", exec.Status, wallet.sentCount())
	}
	if step.TransactionRequest != nil {
		t.Fatal("declined quote must not be stored")
	}
}

func TestExecuteRevertedReceipt(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	wallet.receipt = &types.Receipt{Status: types.ReceiptStatusFailed}

	exec, err := testExecutor(&fakeAPI{}).Execute(context.Background(), wallet, &step, sm, Settings{})
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeTxFailed {
		t.Fatalf("expected tx failed, got %v", err)
	}
	p, _ := exec.FindProcess(ProcessSwap)
	if p.Status != StatusFailed || p.TxHash != "0xfeed" {
		t.Fatalf("unexpected process: %+v", p)
	}
	if !strings.Contains(p.Error.DisplayMessage, "https://polygonscan.com/tx/0xfeed") {
		t.Fatalf("expected link in display message: %q", p.Error.DisplayMessage)
	}
}

func TestExecuteReceivingChainFailure(t *testing.T) {
	step := bridgeStep("b1")
	step.Execution = &Execution{
		Status:  StatusPending,
		Process: []Process{{Type: ProcessCrossChain, Status: StatusDone, TxHash: "0xabc"}},
	}
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	api := &fakeAPI{statuses: []statusResult{{resp: StatusResponse{Status: "FAILED"}}}}

	exec, err := testExecutor(api).Execute(context.Background(), wallet, &step, sm, Settings{})
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeTxFailed || cliErr.Message != "Failed while waiting for receiving chain." {
		t.Fatalf("unexpected error: %v", err)
	}
	if wallet.sentCount() != 0 || len(wallet.lookups) != 0 {
		t.Fatal("a completed source transaction must not be touched")
	}
	receiving, _ := exec.FindProcess(ProcessReceivingChain)
	if receiving.Status != StatusFailed || exec.Status != StatusFailed {
		t.Fatalf("expected FAILED receiving process, got %+v", exec)
	}
	if source, _ := exec.FindProcess(ProcessCrossChain); source.Status != StatusDone {
		t.Fatalf("source process must stay DONE, got %s", source.Status)
	}
}

type haltingAllowance struct{ calls int }

func (a *haltingAllowance) CheckAllowance(context.Context, Wallet, *Step, *StatusManager, Settings, ChainInfo, bool) (Wallet, error) {
	a.calls++
	return nil, nil
}

type brokeBalance struct{}

func (brokeBalance) CheckBalance(context.Context, Wallet, *Step) error {
	return clierr.New(clierr.CodeBalance, "Your USDC balance is too low.")
}

func TestExecuteHaltsWhenAllowanceHalts(t *testing.T) {
	step := bridgeStep("b1")
	sm, _ := newManager(t, step)
	allowance := &haltingAllowance{}
	executor := testExecutor(&fakeAPI{})
	executor.opts.Allowance = allowance

	if _, err := executor.Execute(context.Background(), newFakeWallet(testPolygon), &step, sm, Settings{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if allowance.calls != 1 {
		t.Fatalf("expected one allowance check, got %d", allowance.calls)
	}
	if _, ok := step.Execution.FindProcess(ProcessCrossChain); ok {
		t.Fatal("main process must not start before the allowance is set")
	}
}

func TestExecuteSkipsAllowanceForNativeToken(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	allowance := &haltingAllowance{}
	executor := testExecutor(&fakeAPI{})
	executor.opts.Allowance = allowance

	exec, err := executor.Execute(context.Background(), newFakeWallet(testPolygon), &step, sm, Settings{})
	if err != nil || exec.Status != StatusDone {
		t.Fatalf("expected DONE, got %s err=%v", exec.Status, err)
	}
	if allowance.calls != 0 {
		t.Fatal("native tokens need no allowance")
	}
}

func TestExecuteBalanceFailure(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	executor := testExecutor(&fakeAPI{})
	executor.opts.Balance = brokeBalance{}

	exec, err := executor.Execute(context.Background(), newFakeWallet(testPolygon), &step, sm, Settings{})
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeBalance {
		t.Fatalf("expected balance error, got %v", err)
	}
	if p, _ := exec.FindProcess(ProcessSwap); p.Status != StatusFailed || p.Error.Code != "balance_error" {
		t.Fatalf("unexpected process: %+v", p)
	}
}

func TestExecuteRejectsForeignPayload(t *testing.T) {
	step := swapStep("s1")
	step.TransactionRequest.To = "0x0000000000000000000000000000000000000bad"
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)

	_, err := testExecutor(&fakeAPI{}).Execute(context.Background(), wallet, &step, sm, Settings{})
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeTxUnprepared {
		t.Fatalf("expected unprepared transaction, got %v", err)
	}
	if wallet.sentCount() != 0 {
		t.Fatal("foreign payload must not be sent")
	}
}

func TestExecuteAppliesGasHook(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	settings := Settings{UpdateTransactionRequestHook: func(_ context.Context, req TransactionRequest) (TransactionRequest, error) {
		req.GasLimit = "300000"
		req.MaxFeePerGas = "50000000000"
		req.To = "0x0000000000000000000000000000000000000bad"
		return req, nil
	}}

	if _, err := testExecutor(&fakeAPI{}).Execute(context.Background(), wallet, &step, sm, settings); err != nil {
		t.Fatalf("execute: %v", err)
	}
	sent := wallet.sent[0]
	if sent.GasLimit != "300000" || sent.MaxFeePerGas != "50000000000" || sent.To != testRouter {
		t.Fatalf("expected only gas fields from the hook, got %+v", sent)
	}
}

func TestExecuteSkipsDoneStep(t *testing.T) {
	step := swapStep("s1")
	step.Execution = &Execution{Status: StatusDone, ToAmount: "520000"}
	sm, rec := newManager(t, step)

	exec, err := testExecutor(&fakeAPI{}).Execute(context.Background(), newFakeWallet(testOP), &step, sm, Settings{})
	if err != nil || exec.Status != StatusDone {
		t.Fatalf("expected DONE, got %s err=%v", exec.Status, err)
	}
	if rec.count() != 0 {
		t.Fatal("a done step must not notify")
	}
}

func TestExecuteRequiresWallet(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	_, err := testExecutor(&fakeAPI{}).Execute(context.Background(), nil, &step, sm, Settings{})
	if cliErr, ok := clierr.As(err); !ok || cliErr.Code != clierr.CodeSigner {
		t.Fatalf("expected signer error, got %v", err)
	}
}
