package system

import "context"

// Service represents a lifecycle-managed component. Background workers
// implement this interface so the manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts plain functions to Service. Nil functions are no-ops.
type Func struct {
	ServiceName string
	StartFunc   func(ctx context.Context) error
	StopFunc    func(ctx context.Context) error
}

func (f Func) Name() string { return f.ServiceName }

func (f Func) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}
