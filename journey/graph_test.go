package journey

import (
	"errors"
	"testing"
)

func linearDef() JourneyDefinition {
	return JourneyDefinition{
		ID:      "linear",
		Version: 1,
		Steps: []StepNode{
			{ID: "a", Type: "work", IsStart: true},
			{ID: "b", Type: "work"},
			{ID: "c", Type: "work", IsEnd: true},
		},
		Transitions: []Transition{
			{ID: "t1", From: "a", To: "b"},
			{ID: "t2", From: "b", To: "c"},
		},
	}
}

func TestCompileGraph(t *testing.T) {
	t.Run("valid linear graph", func(t *testing.T) {
		g, err := CompileGraph(linearDef())
		if err != nil {
			t.Fatalf("CompileGraph: %v", err)
		}
		if g.StartNodeID != "a" {
			t.Errorf("start = %q, want a", g.StartNodeID)
		}
		if len(g.EndNodeIDs) != 1 || g.EndNodeIDs[0] != "c" {
			t.Errorf("ends = %v, want [c]", g.EndNodeIDs)
		}
		if preds := g.Predecessors("c"); len(preds) != 1 || preds[0] != "b" {
			t.Errorf("predecessors(c) = %v, want [b]", preds)
		}
	})

	t.Run("no start node", func(t *testing.T) {
		def := linearDef()
		def.Steps[0].IsStart = false
		assertGraphInvalid(t, def)
	})

	t.Run("multiple start nodes", func(t *testing.T) {
		def := linearDef()
		def.Steps[1].IsStart = true
		assertGraphInvalid(t, def)
	})

	t.Run("no end node", func(t *testing.T) {
		def := linearDef()
		def.Steps[2].IsEnd = false
		assertGraphInvalid(t, def)
	})

	t.Run("duplicate step ID", func(t *testing.T) {
		def := linearDef()
		def.Steps = append(def.Steps, StepNode{ID: "a", Type: "work"})
		assertGraphInvalid(t, def)
	})

	t.Run("transition to unknown step", func(t *testing.T) {
		def := linearDef()
		def.Transitions = append(def.Transitions, Transition{ID: "t3", From: "a", To: "ghost"})
		assertGraphInvalid(t, def)
	})

	t.Run("outgoing transition from end node", func(t *testing.T) {
		def := linearDef()
		def.Transitions = append(def.Transitions, Transition{ID: "t3", From: "c", To: "a"})
		assertGraphInvalid(t, def)
	})

	t.Run("outgoing sorted by priority", func(t *testing.T) {
		def := JourneyDefinition{
			ID: "branch", Version: 1,
			Steps: []StepNode{
				{ID: "a", Type: "work", IsStart: true},
				{ID: "b", Type: "work", IsEnd: true},
				{ID: "c", Type: "work", IsEnd: true},
			},
			Transitions: []Transition{
				{ID: "low", From: "a", To: "c", Priority: 5},
				{ID: "high", From: "a", To: "b", Priority: 1},
			},
		}
		g, err := CompileGraph(def)
		if err != nil {
			t.Fatalf("CompileGraph: %v", err)
		}
		out := g.Outgoing("a")
		if len(out) != 2 || out[0].ID != "high" || out[1].ID != "low" {
			t.Errorf("outgoing order = %v", out)
		}
	})
}

func assertGraphInvalid(t *testing.T, def JourneyDefinition) {
	t.Helper()
	_, err := CompileGraph(def)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var je *JourneyError
	if !errors.As(err, &je) || je.Code != CodeGraphInvalid {
		t.Errorf("error = %v, want code %s", err, CodeGraphInvalid)
	}
}
