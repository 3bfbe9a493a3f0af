package execution

import (
	"context"
	"errors"
	"testing"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

func TestSwitchChainFastPathHasNoSideEffects(t *testing.T) {
	step := swapStep("s1")
	sm, rec := newManager(t, step)
	wallet := newFakeWallet(testPolygon)
	called := false
	hook := func(context.Context, int64) (Wallet, error) {
		called = true
		return nil, nil
	}

	got, err := SwitchChain(context.Background(), wallet, sm, &step, true, hook)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got != Wallet(wallet) {
		t.Fatal("expected the same wallet back")
	}
	if called {
		t.Fatal("hook must not be called when chains match")
	}
	if rec.count() != 0 || step.Execution != nil {
		t.Fatal("fast path must not mutate state")
	}
}

func TestSwitchChainHaltsWithoutInteraction(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testOP)
	hook := func(context.Context, int64) (Wallet, error) {
		t.Fatal("hook must not be called without interaction")
		return nil, nil
	}

	got, err := SwitchChain(context.Background(), wallet, sm, &step, false, hook)
	if err != nil || got != nil {
		t.Fatalf("expected halt, got wallet=%v err=%v", got, err)
	}
	p, ok := sm.Route().Steps[0].Execution.FindProcess(ProcessSwitchChain)
	if !ok || p.Status != StatusActionRequired || p.Message != "Chain switch required." {
		t.Fatalf("expected switch process awaiting the user, got %+v ok=%v", p, ok)
	}
}

func TestSwitchChainPropagatesHookError(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testOP)
	hookErr := errors.New("user closed the prompt")

	_, err := SwitchChain(context.Background(), wallet, sm, &step, true, func(context.Context, int64) (Wallet, error) {
		return nil, hookErr
	})
	if err != hookErr {
		t.Fatalf("expected the exact hook error, got %v", err)
	}
	exec := sm.Route().Steps[0].Execution
	if exec.Status != StatusFailed {
		t.Fatalf("expected FAILED execution, got %s", exec.Status)
	}
	if p, _ := exec.FindProcess(ProcessSwitchChain); p.Status != StatusFailed {
		t.Fatalf("expected FAILED switch process, got %s", p.Status)
	}
}

func TestSwitchChainRejectsWrongChainAfterHook(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testOP)

	_, err := SwitchChain(context.Background(), wallet, sm, &step, true, func(context.Context, int64) (Wallet, error) {
		return newFakeWallet(1), nil
	})
	cliErr, ok := clierr.As(err)
	if !ok || cliErr.Code != clierr.CodeChainSwitch {
		t.Fatalf("expected chain switch error, got %v", err)
	}
	if sm.Route().Steps[0].Execution.Status != StatusFailed {
		t.Fatal("expected FAILED execution")
	}
}

func TestSwitchChainSuccess(t *testing.T) {
	step := swapStep("s1")
	sm, _ := newManager(t, step)
	wallet := newFakeWallet(testOP)
	switched := newFakeWallet(testPolygon)
	var requested int64

	got, err := SwitchChain(context.Background(), wallet, sm, &step, true, func(_ context.Context, chainID int64) (Wallet, error) {
		requested = chainID
		return switched, nil
	})
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got != Wallet(switched) || requested != testPolygon {
		t.Fatalf("unexpected switch result: requested=%d", requested)
	}
	exec := sm.Route().Steps[0].Execution
	if exec.Status != StatusPending {
		t.Fatalf("expected PENDING execution, got %s", exec.Status)
	}
	if p, _ := exec.FindProcess(ProcessSwitchChain); p.Status != StatusDone || p.Message != "Chain switched successfully." {
		t.Fatalf("unexpected switch process: %+v", p)
	}
}
