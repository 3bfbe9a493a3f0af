package execution

// PrepareRestart readies a route whose steps failed for another Execute call.
// Failed steps keep only their DONE processes and lose their unsent
// transaction payload so it is rebuilt fresh. Other steps are left alone.
func PrepareRestart(route *Route) {
	if route == nil {
		return
	}
	for i := range route.Steps {
		step := &route.Steps[i]
		if step.Execution == nil || step.Execution.Status != StatusFailed {
			continue
		}
		kept := make([]Process, 0, len(step.Execution.Process))
		for _, p := range step.Execution.Process {
			if p.Status == StatusDone {
				kept = append(kept, p)
			}
		}
		step.Execution.Process = kept
		step.TransactionRequest = nil
	}
}
