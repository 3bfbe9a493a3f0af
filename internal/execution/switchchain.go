package execution

import (
	"context"
	"fmt"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

// SwitchChain makes sure w is on the step's source chain. It returns the
// wallet to continue with, or (nil, nil) when the user must be asked first
// but interaction is not allowed right now.
func SwitchChain(ctx context.Context, w Wallet, sm *StatusManager, step *Step, allowInteraction bool, hook SwitchChainHook) (Wallet, error) {
	required := step.Action.FromChainID
	current, err := w.ChainID(ctx)
	if err == nil && current == required {
		return w, nil
	}

	if _, err := sm.InitExecutionObject(step); err != nil {
		return nil, err
	}
	if _, err := sm.FindOrCreateProcess(step, ProcessSwitchChain, StatusActionRequired); err != nil {
		return nil, err
	}
	if !allowInteraction {
		return nil, nil
	}
	if hook == nil {
		return nil, failSwitch(sm, step, clierr.New(clierr.CodeChainSwitch, "Chain switch required."))
	}

	switched, hookErr := hook(ctx, required)
	if hookErr != nil {
		return nil, failSwitch(sm, step, hookErr)
	}
	if switched == nil {
		switched = w
	}
	got, err := switched.ChainID(ctx)
	if err != nil || got != required {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("wallet reports chain %d, want %d", got, required)
		}
		return nil, failSwitch(sm, step, clierr.Wrap(clierr.CodeChainSwitch, "Chain switch required.", cause))
	}

	if _, err := sm.UpdateProcess(step, ProcessSwitchChain, StatusDone, ProcessUpdate{}); err != nil {
		return nil, err
	}
	if _, err := sm.UpdateExecution(step, StatusPending, nil); err != nil {
		return nil, err
	}
	return switched, nil
}

// failSwitch records the failure and returns cause unchanged.
func failSwitch(sm *StatusManager, step *Step, cause error) error {
	classified := ClassifyError(cause, step, nil)
	_, _ = sm.UpdateProcess(step, ProcessSwitchChain, StatusFailed, ProcessUpdate{Error: ProcessErrorFrom(classified)})
	_, _ = sm.UpdateExecution(step, StatusFailed, nil)
	return cause
}
