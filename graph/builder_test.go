package graph

import (
	"reflect"
	"testing"
)

func TestBuild_NoDependencies(t *testing.T) {
	result, err := Build([]string{"a", "b", "c"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(result.Order, []string{"a", "b", "c"}) {
		t.Errorf("expected declaration order, got %v", result.Order)
	}
	if len(result.Groups) != 1 || len(result.Groups[0]) != 3 {
		t.Errorf("expected one group of 3, got %v", result.Groups)
	}
	if result.HasCycle() {
		t.Errorf("expected no cycle, got %v", result.Cycle)
	}
}

func TestBuild_LinearChain(t *testing.T) {
	edges := []Edge{
		{From: "b", To: "a", Type: EdgeRequires},
		{From: "c", To: "b", Type: EdgeRequires},
	}

	result, err := Build([]string{"a", "b", "c"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(result.Order, []string{"a", "b", "c"}) {
		t.Errorf("expected a,b,c order, got %v", result.Order)
	}
	if len(result.Groups) != 3 {
		t.Errorf("expected 3 groups, got %v", result.Groups)
	}
}

func TestBuild_ParallelGroups(t *testing.T) {
	// d requires both b and c; b and c each require a.
	edges := []Edge{
		{From: "b", To: "a", Type: EdgeRequires},
		{From: "c", To: "a", Type: EdgeRequires},
		{From: "d", To: "b", Type: EdgeRequires},
		{From: "d", To: "c", Type: EdgeRequires},
	}

	result, err := Build([]string{"a", "b", "c", "d"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(result.Groups, want) {
		t.Errorf("expected groups %v, got %v", want, result.Groups)
	}
}

func TestBuild_BlocksEdgeReversesDirection(t *testing.T) {
	// "a blocks b" must schedule b after a.
	edges := []Edge{{From: "a", To: "b", Type: EdgeBlocks}}

	result, err := Build([]string{"b", "a"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(result.Order, []string{"a", "b"}) {
		t.Errorf("expected a before b, got %v", result.Order)
	}
}

func TestBuild_SuggestsEdgeIgnored(t *testing.T) {
	edges := []Edge{{From: "a", To: "b", Type: EdgeSuggests}}

	result, err := Build([]string{"a", "b"}, edges)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Groups) != 1 {
		t.Errorf("suggests edge should not constrain scheduling, got groups %v", result.Groups)
	}
}

func TestBuild_CycleReportsPartialOrder(t *testing.T) {
	// a is free; b and c form a cycle; d is behind the cycle.
	edges := []Edge{
		{From: "b", To: "c", Type: EdgeRequires},
		{From: "c", To: "b", Type: EdgeRequires},
		{From: "d", To: "b", Type: EdgeRequires},
	}

	result, err := Build([]string{"a", "b", "c", "d"}, edges)
	if err != nil {
		t.Fatalf("cycle must not fail the build: %v", err)
	}

	if !reflect.DeepEqual(result.Order, []string{"a"}) {
		t.Errorf("expected acyclic prefix [a], got %v", result.Order)
	}
	if !result.HasCycle() {
		t.Fatal("expected cycle to be reported")
	}
	if !reflect.DeepEqual(result.Cycle, []string{"b", "c", "d"}) {
		t.Errorf("expected unordered nodes b,c,d, got %v", result.Cycle)
	}
}

func TestBuild_UnknownEdgeEndpoint(t *testing.T) {
	edges := []Edge{{From: "a", To: "ghost", Type: EdgeRequires}}

	if _, err := Build([]string{"a"}, edges); err == nil {
		t.Fatal("expected error for unknown endpoint")
	}
}

func TestBuild_SelfDependency(t *testing.T) {
	edges := []Edge{{From: "a", To: "a", Type: EdgeRequires}}

	if _, err := Build([]string{"a"}, edges); err == nil {
		t.Fatal("expected error for self dependency")
	}
}

func TestBuild_DuplicateNode(t *testing.T) {
	if _, err := Build([]string{"a", "a"}, nil); err == nil {
		t.Fatal("expected error for duplicate node")
	}
}
