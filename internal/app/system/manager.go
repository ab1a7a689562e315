package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]bool
	started  int
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]bool)}
}

// Register adds a service. Names must be unique and registration must happen
// before Start.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("nil service")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started > 0 {
		return fmt.Errorf("manager already started")
	}
	name := svc.Name()
	if name == "" {
		return fmt.Errorf("service name is required")
	}
	if m.names[name] {
		return fmt.Errorf("service %s already registered", name)
	}
	m.names[name] = true
	m.services = append(m.services, svc)
	return nil
}

// Start starts every service. On failure the services already started are
// stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, svc := range m.services[m.started:] {
		if err := svc.Start(ctx); err != nil {
			m.started += i
			stopErr := m.stopLocked(ctx)
			return errors.Join(fmt.Errorf("start %s: %w", svc.Name(), err), stopErr)
		}
	}
	m.started = len(m.services)
	return nil
}

// Stop stops started services in reverse order and joins their errors.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := m.started - 1; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	m.started = 0
	return errors.Join(errs...)
}

// Names lists registered services in start order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.services))
	for i, svc := range m.services {
		names[i] = svc.Name()
	}
	return names
}
