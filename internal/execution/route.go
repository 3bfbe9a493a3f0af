package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

// Engine runs whole routes. Each active route gets its own StatusManager and
// StepExecutor; nothing mutable is shared between routes.
type Engine struct {
	opts ExecutorOptions

	mu     sync.Mutex
	active map[string]*activeRoute
}

type activeRoute struct {
	executor *StepExecutor
	manager  *StatusManager
}

func NewEngine(opts ExecutorOptions) *Engine {
	return &Engine{opts: opts, active: map[string]*activeRoute{}}
}

// ExecuteRoute runs route's steps in order and returns the final snapshot.
// It stops at the first step that fails or halts for interaction.
func (e *Engine) ExecuteRoute(ctx context.Context, w Wallet, route Route, settings Settings) (Route, error) {
	return e.run(ctx, w, route, settings)
}

// ResumeRoute prepares a previously failed or halted route and runs it again.
func (e *Engine) ResumeRoute(ctx context.Context, w Wallet, route Route, settings Settings) (Route, error) {
	resumed := route.Clone()
	PrepareRestart(&resumed)
	return e.run(ctx, w, resumed, settings)
}

// StopExecution halts the active route at its next interaction point.
func (e *Engine) StopExecution(routeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.active[routeID]
	if !ok {
		return false
	}
	r.executor.StopExecution()
	return true
}

// AllowInteraction toggles user prompts for the active route.
func (e *Engine) AllowInteraction(routeID string, allow bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.active[routeID]
	if !ok {
		return false
	}
	r.executor.AllowInteraction(allow)
	return true
}

// ActiveRoutes lists the ids of routes currently executing.
func (e *Engine) ActiveRoutes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the live state of an active route.
func (e *Engine) Snapshot(routeID string) (Route, bool) {
	e.mu.Lock()
	r, ok := e.active[routeID]
	e.mu.Unlock()
	if !ok {
		return Route{}, false
	}
	return r.manager.Route(), true
}

func (e *Engine) run(ctx context.Context, w Wallet, route Route, settings Settings) (Route, error) {
	if route.ID == "" {
		return route, clierr.New(clierr.CodeUsage, "route id is required")
	}
	if len(route.Steps) == 0 {
		return route, clierr.New(clierr.CodeUsage, "route has no steps")
	}

	manager := NewStatusManager(route, settings.UpdateCallback, nil)
	executor := NewStepExecutor(e.opts)
	e.mu.Lock()
	if _, busy := e.active[route.ID]; busy {
		e.mu.Unlock()
		return route, clierr.New(clierr.CodeUsage, fmt.Sprintf("route %s is already executing", route.ID))
	}
	e.active[route.ID] = &activeRoute{executor: executor, manager: manager}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, route.ID)
		e.mu.Unlock()
	}()

	for i := range route.Steps {
		snapshot := manager.Route()
		step := snapshot.Steps[i]
		if step.Execution != nil && step.Execution.Status == StatusDone {
			continue
		}
		if executor.Stopped() {
			return manager.Route(), nil
		}
		if i > 0 {
			if err := chainAmount(manager, &step, snapshot.Steps[i-1]); err != nil {
				return manager.Route(), err
			}
		}

		exec, err := executor.Execute(ctx, w, &step, manager, settings)
		if err != nil {
			return manager.Route(), err
		}
		if exec.Status != StatusDone {
			return manager.Route(), nil
		}
	}
	return manager.Route(), nil
}

// chainAmount feeds the previous step's realised output into step's input.
// A stale transaction payload is dropped unless it was already sent.
func chainAmount(manager *StatusManager, step *Step, prev Step) error {
	if prev.Execution == nil || prev.Execution.ToAmount == "" || prev.Execution.ToAmount == step.Action.FromAmount {
		return nil
	}
	update := StepUpdate{FromAmount: prev.Execution.ToAmount}
	if main, ok := step.Execution.FindProcess(step.MainProcessType()); !ok || main.TxHash == "" {
		update.ClearTransactionRequest = true
	}
	_, err := manager.UpdateStep(step, update)
	return err
}
