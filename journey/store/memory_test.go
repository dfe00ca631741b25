package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prospectiq/journey-go/journey"
)

func testInstance(id, tenant string, status journey.Status) *journey.JourneyInstance {
	return &journey.JourneyInstance{
		ExecutionContext: journey.ExecutionContext{
			InstanceID: id,
			JourneyID:  "sales",
			Version:    1,
			Status:     status,
			Nodes:      map[string]journey.NodeStatus{"a": journey.NodePending},
			Data: journey.ExecutionData{
				Input: map[string]any{"lead": id},
			},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
		TenantID: tenant,
	}
}

func TestMemoryCheckpoints(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ec := &journey.ExecutionContext{
		InstanceID: "inst-1",
		Status:     journey.StatusRunning,
		Nodes:      map[string]journey.NodeStatus{"a": journey.NodeRunning},
		Data:       journey.ExecutionData{StepOutputs: map[string]any{}},
	}
	if err := m.SaveCheckpoint(ctx, "inst-1", ec); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	t.Run("load returns a copy", func(t *testing.T) {
		got, err := m.LoadCheckpoint(ctx, "inst-1")
		if err != nil {
			t.Fatalf("LoadCheckpoint: %v", err)
		}
		got.Nodes["a"] = journey.NodeCompleted

		again, _ := m.LoadCheckpoint(ctx, "inst-1")
		if again.Nodes["a"] != journey.NodeRunning {
			t.Error("caller mutation leaked into the store")
		}
	})

	t.Run("save isolates the caller's copy", func(t *testing.T) {
		ec.Nodes["a"] = journey.NodeFailed
		got, _ := m.LoadCheckpoint(ctx, "inst-1")
		if got.Nodes["a"] != journey.NodeRunning {
			t.Error("post-save mutation leaked into the store")
		}
	})

	t.Run("missing checkpoint", func(t *testing.T) {
		if _, err := m.LoadCheckpoint(ctx, "ghost"); !errors.Is(err, journey.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryInstances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, inst := range []*journey.JourneyInstance{
		testInstance("i1", "acme", journey.StatusRunning),
		testInstance("i2", "acme", journey.StatusCompleted),
		testInstance("i3", "globex", journey.StatusRunning),
	} {
		if err := m.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance(%s): %v", inst.InstanceID, err)
		}
	}

	t.Run("load", func(t *testing.T) {
		inst, err := m.LoadInstance(ctx, "i2")
		if err != nil {
			t.Fatalf("LoadInstance: %v", err)
		}
		if inst.TenantID != "acme" || inst.Status != journey.StatusCompleted {
			t.Errorf("inst = %+v", inst)
		}
	})

	t.Run("list filters by tenant and status", func(t *testing.T) {
		tests := []struct {
			name   string
			filter journey.InstanceFilter
			want   []string
		}{
			{"all", journey.InstanceFilter{}, []string{"i1", "i2", "i3"}},
			{"by tenant", journey.InstanceFilter{TenantID: "acme"}, []string{"i1", "i2"}},
			{"by status", journey.InstanceFilter{Status: journey.StatusRunning}, []string{"i1", "i3"}},
			{"both", journey.InstanceFilter{TenantID: "acme", Status: journey.StatusRunning}, []string{"i1"}},
			{"no match", journey.InstanceFilter{TenantID: "initech"}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := m.ListInstances(ctx, tt.filter)
				if err != nil {
					t.Fatalf("ListInstances: %v", err)
				}
				var ids []string
				for _, inst := range got {
					ids = append(ids, inst.InstanceID)
				}
				if len(ids) != len(tt.want) {
					t.Fatalf("ids = %v, want %v", ids, tt.want)
				}
				for i := range ids {
					if ids[i] != tt.want[i] {
						t.Errorf("ids = %v, want %v", ids, tt.want)
						break
					}
				}
			})
		}
	})

	t.Run("partial update", func(t *testing.T) {
		status := journey.StatusPaused
		err := m.UpdateInstance(ctx, "i1", journey.InstanceUpdate{
			Status:    &status,
			History:   []journey.HistoryEntry{{StepID: "a", At: time.Now()}},
			UpdatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("UpdateInstance: %v", err)
		}

		inst, _ := m.LoadInstance(ctx, "i1")
		if inst.Status != journey.StatusPaused {
			t.Errorf("status = %s, want paused", inst.Status)
		}
		if len(inst.History) != 1 {
			t.Errorf("history = %v", inst.History)
		}
		if inst.Data.Input["lead"] != "i1" {
			t.Error("nil update field should leave data untouched")
		}
	})

	t.Run("update unknown instance", func(t *testing.T) {
		err := m.UpdateInstance(ctx, "ghost", journey.InstanceUpdate{})
		if !errors.Is(err, journey.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete removes instance and checkpoint", func(t *testing.T) {
		m.SaveCheckpoint(ctx, "i3", &journey.ExecutionContext{InstanceID: "i3"})

		if err := m.DeleteInstance(ctx, "i3"); err != nil {
			t.Fatalf("DeleteInstance: %v", err)
		}
		if _, err := m.LoadInstance(ctx, "i3"); !errors.Is(err, journey.ErrNotFound) {
			t.Errorf("instance err = %v, want ErrNotFound", err)
		}
		if _, err := m.LoadCheckpoint(ctx, "i3"); !errors.Is(err, journey.ErrNotFound) {
			t.Errorf("checkpoint err = %v, want ErrNotFound", err)
		}
	})
}

// Distinct instance IDs hit the shared maps concurrently; run with
// -race.
func TestMemoryConcurrentDistinctInstances(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("inst-%d", n)
			inst := testInstance(id, "acme", journey.StatusRunning)
			for j := 0; j < 20; j++ {
				m.SaveInstance(ctx, inst)
				m.SaveCheckpoint(ctx, id, &inst.ExecutionContext)
				m.LoadCheckpoint(ctx, id)
				m.LoadInstance(ctx, id)
				m.ListInstances(ctx, journey.InstanceFilter{TenantID: "acme"})
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("inst-%d", i)
		if _, err := m.LoadInstance(ctx, id); err != nil {
			t.Errorf("LoadInstance(%s): %v", id, err)
		}
		if _, err := m.LoadCheckpoint(ctx, id); err != nil {
			t.Errorf("LoadCheckpoint(%s): %v", id, err)
		}
	}
}
