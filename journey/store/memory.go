// Package store provides persistence adapters for the journey engine:
// an in-process reference adapter plus SQLite and MySQL backends, all
// honoring the journey.Store contract.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/prospectiq/journey-go/journey"
)

// Memory is the in-process reference adapter: maps guarded by one
// RWMutex. Both writes and reads deep-copy, so a caller can never share
// mutable state with the store or with another caller.
//
// Designed for tests, development, and single-process deployments.
// Production deployments use the SQLite or MySQL adapters, or an
// external implementation of journey.Store.
type Memory struct {
	mu          sync.RWMutex
	checkpoints map[string]*journey.ExecutionContext
	instances   map[string]*journey.JourneyInstance
	order       []string
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		checkpoints: make(map[string]*journey.ExecutionContext),
		instances:   make(map[string]*journey.JourneyInstance),
	}
}

func deepCopy[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return out, nil
}

// SaveCheckpoint implements journey.Store.
func (m *Memory) SaveCheckpoint(_ context.Context, instanceID string, ec *journey.ExecutionContext) error {
	cp, err := deepCopy(ec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[instanceID] = cp
	return nil
}

// LoadCheckpoint implements journey.Store.
func (m *Memory) LoadCheckpoint(_ context.Context, instanceID string) (*journey.ExecutionContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[instanceID]
	if !ok {
		return nil, journey.ErrNotFound
	}
	return deepCopy(cp)
}

// SaveInstance implements journey.Store.
func (m *Memory) SaveInstance(_ context.Context, inst *journey.JourneyInstance) error {
	cp, err := deepCopy(inst)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[inst.InstanceID]; !exists {
		m.order = append(m.order, inst.InstanceID)
	}
	m.instances[inst.InstanceID] = cp
	return nil
}

// LoadInstance implements journey.Store.
func (m *Memory) LoadInstance(_ context.Context, id string) (*journey.JourneyInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, journey.ErrNotFound
	}
	return deepCopy(inst)
}

// UpdateInstance implements journey.Store. Last write wins.
func (m *Memory) UpdateInstance(_ context.Context, id string, update journey.InstanceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return journey.ErrNotFound
	}

	if update.Status != nil {
		inst.Status = *update.Status
	}
	if update.Data != nil {
		data, err := deepCopy(update.Data)
		if err != nil {
			return err
		}
		inst.Data = *data
	}
	if update.History != nil {
		hist := make([]journey.HistoryEntry, len(update.History))
		copy(hist, update.History)
		inst.History = hist
	}
	if !update.UpdatedAt.IsZero() {
		inst.UpdatedAt = update.UpdatedAt
	}
	return nil
}

// ListInstances implements journey.Store. Results come back in insertion
// order; filter fields match exactly.
func (m *Memory) ListInstances(_ context.Context, filter journey.InstanceFilter) ([]*journey.JourneyInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*journey.JourneyInstance
	for _, id := range m.order {
		inst, ok := m.instances[id]
		if !ok {
			continue
		}
		if filter.TenantID != "" && inst.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		cp, err := deepCopy(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// DeleteInstance implements journey.Store.
func (m *Memory) DeleteInstance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[id]; !ok {
		return journey.ErrNotFound
	}
	delete(m.instances, id)
	delete(m.checkpoints, id)

	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
