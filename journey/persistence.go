package journey

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store adapters when an instance or
// checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// InstanceFilter narrows ListInstances. Zero-valued fields match
// everything; set fields match exactly.
type InstanceFilter struct {
	TenantID string
	Status   Status
}

// InstanceUpdate is a partial instance mutation applied with
// last-write-wins semantics. Nil fields are left untouched.
type InstanceUpdate struct {
	Status    *Status
	Data      *ExecutionData
	History   []HistoryEntry
	UpdatedAt time.Time
}

// Store is the persistence adapter contract. The engine checkpoints the
// execution context through it on every status transition (write-through,
// never write-behind, so a crashed run is always resumable from its last
// checkpoint) and maintains the queryable instance record.
//
// The store is the only component permitted to delete a JourneyInstance;
// deletion is an administrative operation, never engine-internal.
//
// Implementations must serialize writes per instance ID. No ordering is
// required across distinct instance IDs.
type Store interface {
	// SaveCheckpoint durably records the execution context.
	SaveCheckpoint(ctx context.Context, instanceID string, ec *ExecutionContext) error

	// LoadCheckpoint returns the last checkpoint for an instance, or
	// ErrNotFound.
	LoadCheckpoint(ctx context.Context, instanceID string) (*ExecutionContext, error)

	// SaveInstance creates or replaces the durable run record.
	SaveInstance(ctx context.Context, inst *JourneyInstance) error

	// LoadInstance returns a run record by ID, or ErrNotFound.
	LoadInstance(ctx context.Context, id string) (*JourneyInstance, error)

	// UpdateInstance applies a partial update, last-write-wins.
	UpdateInstance(ctx context.Context, id string, update InstanceUpdate) error

	// ListInstances returns records matching the filter exactly.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*JourneyInstance, error)

	// DeleteInstance removes a record and its checkpoint. Administrative
	// purge only.
	DeleteInstance(ctx context.Context, id string) error
}
