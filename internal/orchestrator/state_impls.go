package orchestrator

// LoadingState - reading the checkpoint store
type LoadingState struct{}

func (s *LoadingState) Name() string { return "loading" }
func (s *LoadingState) ToResolving() *ResolvingState {
	return &ResolvingState{}
}
func (s *LoadingState) ToFailed() *FailedState {
	return &FailedState{}
}

// ResolvingState - turning the requested count into a record limit
type ResolvingState struct{}

func (s *ResolvingState) Name() string { return "resolving" }
func (s *ResolvingState) ToDispatching() *DispatchingState {
	return &DispatchingState{}
}
func (s *ResolvingState) ToCompleted() *CompletedState {
	return &CompletedState{}
}
func (s *ResolvingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *ResolvingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// DispatchingState - streaming records from the source into the pool
type DispatchingState struct{}

func (s *DispatchingState) Name() string { return "dispatching" }
func (s *DispatchingState) ToDraining() *DrainingState {
	return &DrainingState{}
}

// DrainingState - waiting for in-flight records
type DrainingState struct{}

func (s *DrainingState) Name() string { return "draining" }
func (s *DrainingState) ToFlushing() *FlushingState {
	return &FlushingState{}
}

// FlushingState - final checkpoint save
type FlushingState struct{}

func (s *FlushingState) Name() string { return "flushing" }
func (s *FlushingState) ToCompleted() *CompletedState {
	return &CompletedState{}
}
func (s *FlushingState) ToFailed() *FailedState {
	return &FailedState{}
}
func (s *FlushingState) ToCancelled() *CancelledState {
	return &CancelledState{}
}

// CompletedState - terminal, every record in scope was dispatched
type CompletedState struct{}

func (s *CompletedState) Name() string { return "completed" }

// FailedState - terminal, aborted by a source or checkpoint error
type FailedState struct{}

func (s *FailedState) Name() string { return "failed" }

// CancelledState - terminal, interrupted by the caller
type CancelledState struct{}

func (s *CancelledState) Name() string { return "cancelled" }
