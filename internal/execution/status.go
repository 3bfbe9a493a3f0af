package execution

import (
	"fmt"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/route-executor/internal/errors"
)

var (
	ErrExecutionNotInitialized = clierr.New(clierr.CodeInternal, "Execution hasn't been initialized.")
	ErrProcessNotFound         = clierr.New(clierr.CodeInternal, "Can't find a process for the given type.")
	ErrStepNotFound            = clierr.New(clierr.CodeInternal, "Can't find the step in the route.")
	ErrInvalidProcessStatus    = clierr.New(clierr.CodeInternal, "Process type doesn't accept this status.")
)

// UpdateCallback receives a full route snapshot after every mutation.
type UpdateCallback func(route Route)

// StatusManager is the single writer of a route's execution records. It owns a
// private copy of the route; every mutating call is applied to that copy and
// followed by one synchronous notification carrying a fresh snapshot.
//
// Methods take the caller's *Step only to locate the step by ID. On success
// the caller's step.Execution is replaced with a copy of the manager's record.
// Callbacks must not call back into the manager's mutating methods.
type StatusManager struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	route    Route
	onUpdate UpdateCallback
	internal UpdateCallback
	now      func() time.Time
}

func NewStatusManager(route Route, onUpdate, internal UpdateCallback) *StatusManager {
	return &StatusManager{
		route:    route.Clone(),
		onUpdate: onUpdate,
		internal: internal,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Route returns a snapshot of the managed route.
func (m *StatusManager) Route() Route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.route.Clone()
}

// InitExecutionObject creates an empty PENDING execution for step if it has
// none. Only a creating call notifies.
func (m *StatusManager) InitExecutionObject(step *Step) (Execution, error) {
	m.mu.Lock()
	owned, err := m.lookup(step)
	if err != nil {
		m.mu.Unlock()
		return Execution{}, err
	}
	if owned.Execution != nil {
		out := owned.Execution.Clone()
		m.mu.Unlock()
		writeBack(step, out)
		return out, nil
	}
	owned.Execution = &Execution{Status: StatusPending, Process: []Process{}}
	out := owned.Execution.Clone()
	m.commit()
	writeBack(step, out)
	return out, nil
}

// UpdateExecution sets the execution status and merges settlement figures.
func (m *StatusManager) UpdateExecution(step *Step, status Status, settlement *Settlement) (Execution, error) {
	if !status.valid() {
		return Execution{}, fmt.Errorf("%w: %s", ErrInvalidProcessStatus, status)
	}
	m.mu.Lock()
	owned, err := m.lookupInitialized(step)
	if err != nil {
		m.mu.Unlock()
		return Execution{}, err
	}
	exec := owned.Execution
	exec.Status = status
	if settlement != nil {
		mergeSettlement(exec, *settlement)
	}
	out := exec.Clone()
	m.commit()
	writeBack(step, out)
	return out, nil
}

// FindOrCreateProcess returns the process of type t, appending it with
// initial status (STARTED when empty) if it does not exist yet. Only an
// appending call notifies.
func (m *StatusManager) FindOrCreateProcess(step *Step, t ProcessType, initial Status) (Process, error) {
	if initial == "" {
		initial = StatusStarted
	}
	if !t.Allows(initial) {
		return Process{}, fmt.Errorf("%w: %s %s", ErrInvalidProcessStatus, t, initial)
	}
	m.mu.Lock()
	owned, err := m.lookupInitialized(step)
	if err != nil {
		m.mu.Unlock()
		return Process{}, err
	}
	if idx := owned.Execution.processIndex(t); idx >= 0 {
		out := owned.Execution.Process[idx].clone()
		exec := owned.Execution.Clone()
		m.mu.Unlock()
		writeBack(step, exec)
		return out, nil
	}
	process := Process{
		Type:      t,
		Status:    initial,
		Message:   ProcessMessage(t, initial),
		StartedAt: m.now(),
	}
	owned.Execution.Process = append(owned.Execution.Process, process)
	exec := owned.Execution.Clone()
	m.commit()
	writeBack(step, exec)
	return process.clone(), nil
}

// UpdateProcess moves the process of type t to status and merges update.
// doneAt is stamped exactly when status is terminal. The execution mirrors the
// new status unless it is DONE or CANCELLED; completing a step is always an
// explicit UpdateExecution call.
func (m *StatusManager) UpdateProcess(step *Step, t ProcessType, status Status, update ProcessUpdate) (Process, error) {
	if !t.Allows(status) {
		return Process{}, fmt.Errorf("%w: %s %s", ErrInvalidProcessStatus, t, status)
	}
	m.mu.Lock()
	owned, err := m.lookupInitialized(step)
	if err != nil {
		m.mu.Unlock()
		return Process{}, err
	}
	idx := owned.Execution.processIndex(t)
	if idx < 0 {
		m.mu.Unlock()
		return Process{}, fmt.Errorf("%w: %s", ErrProcessNotFound, t)
	}
	process := &owned.Execution.Process[idx]
	process.Status = status
	if msg := ProcessMessage(t, status); msg != "" {
		process.Message = msg
	}
	mergeProcessUpdate(process, update)
	if status.Terminal() {
		doneAt := m.now()
		process.DoneAt = &doneAt
	}
	if status != StatusDone && status != StatusCancelled {
		owned.Execution.Status = status
	}
	out := process.clone()
	exec := owned.Execution.Clone()
	m.commit()
	writeBack(step, exec)
	return out, nil
}

// RemoveProcess deletes the process of type t. Removing an absent process is
// a no-op without notification.
func (m *StatusManager) RemoveProcess(step *Step, t ProcessType) error {
	m.mu.Lock()
	owned, err := m.lookupInitialized(step)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	idx := owned.Execution.processIndex(t)
	if idx < 0 {
		exec := owned.Execution.Clone()
		m.mu.Unlock()
		writeBack(step, exec)
		return nil
	}
	procs := owned.Execution.Process
	owned.Execution.Process = append(procs[:idx:idx], procs[idx+1:]...)
	exec := owned.Execution.Clone()
	m.commit()
	writeBack(step, exec)
	return nil
}

// UpdateStep replaces the refreshable parts of a step, such as a new quote or a
// chained input amount. The caller's step receives the updated copy.
func (m *StatusManager) UpdateStep(step *Step, update StepUpdate) (Step, error) {
	m.mu.Lock()
	owned, err := m.lookup(step)
	if err != nil {
		m.mu.Unlock()
		return Step{}, err
	}
	if update.Estimate != nil {
		owned.Estimate = update.Estimate.clone()
	}
	if update.ClearTransactionRequest {
		owned.TransactionRequest = nil
	}
	if update.TransactionRequest != nil {
		req := *update.TransactionRequest
		owned.TransactionRequest = &req
	}
	if update.FromAmount != "" {
		owned.Action.FromAmount = update.FromAmount
	}
	out := owned.Clone()
	m.commit()
	*step = out.Clone()
	return out, nil
}

func (m *StatusManager) lookup(step *Step) (*Step, error) {
	if step == nil {
		return nil, ErrStepNotFound
	}
	for i := range m.route.Steps {
		if sameStep(&m.route.Steps[i], step) {
			return &m.route.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrStepNotFound, step.ID)
}

func (m *StatusManager) lookupInitialized(step *Step) (*Step, error) {
	owned, err := m.lookup(step)
	if err != nil {
		return nil, err
	}
	if owned.Execution == nil {
		return nil, ErrExecutionNotInitialized
	}
	return owned, nil
}

// commit must be called with mu held. It hands the lock over to notifyMu so
// snapshots are delivered in mutation order without holding mu in callbacks.
func (m *StatusManager) commit() {
	snapshot := m.route.Clone()
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()
	if m.onUpdate != nil {
		m.onUpdate(snapshot.Clone())
	}
	if m.internal != nil {
		m.internal(snapshot)
	}
}

func writeBack(step *Step, exec Execution) {
	if step == nil {
		return
	}
	step.Execution = &exec
}

func mergeSettlement(exec *Execution, s Settlement) {
	if s.FromAmount != "" {
		exec.FromAmount = s.FromAmount
	}
	if s.ToAmount != "" {
		exec.ToAmount = s.ToAmount
	}
	if s.ToToken != nil {
		token := *s.ToToken
		exec.ToToken = &token
	}
	if s.GasAmount != "" {
		exec.GasAmount = s.GasAmount
	}
	if s.GasAmountUSD != "" {
		exec.GasAmountUSD = s.GasAmountUSD
	}
	if s.GasPrice != "" {
		exec.GasPrice = s.GasPrice
	}
	if s.GasUsed != "" {
		exec.GasUsed = s.GasUsed
	}
	if s.GasToken != nil {
		token := *s.GasToken
		exec.GasToken = &token
	}
}

func mergeProcessUpdate(p *Process, u ProcessUpdate) {
	if u.Message != "" {
		p.Message = u.Message
	}
	if u.TxHash != "" {
		p.TxHash = u.TxHash
	}
	if u.TxLink != "" {
		p.TxLink = u.TxLink
	}
	if u.Substatus != "" {
		p.Substatus = u.Substatus
	}
	if u.SubstatusMessage != "" {
		p.SubstatusMessage = u.SubstatusMessage
	}
	if u.Error != nil {
		procErr := *u.Error
		p.Error = &procErr
	}
}
