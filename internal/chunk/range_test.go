package chunk_test

import (
	"testing"

	"github.com/eth-stack/easydl/internal/chunk"
)

func TestBuildPlanRebalancesSmallTail(t *testing.T) {
	plan, err := chunk.BuildPlan(100_000, 5, 30_000)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	want := []chunk.Range{
		{ID: 0, Lo: 0, Hi: 29_999},
		{ID: 1, Lo: 30_000, Hi: 59_999},
		{ID: 2, Lo: 60_000, Hi: 84_999},
		{ID: 3, Lo: 85_000, Hi: 99_999},
	}

	if len(plan.Ranges) != len(want) {
		t.Fatalf("expected %d ranges, got %d: %+v", len(want), len(plan.Ranges), plan.Ranges)
	}
	for i, r := range plan.Ranges {
		if r != want[i] {
			t.Errorf("range %d: got %+v, want %+v", i, r, want[i])
		}
	}
}

func TestBuildPlanShrinksChunkSizeWhenItWouldExceedConnections(t *testing.T) {
	// a default chunk size of size/10 = 100 would produce 10 ranges over
	// only 4 connections, so the planner shrinks it to size/connections.
	plan, err := chunk.BuildPlan(1000, 4, 100)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	if len(plan.Ranges) != 4 {
		t.Fatalf("expected 4 ranges, got %d: %+v", len(plan.Ranges), plan.Ranges)
	}
	for i, r := range plan.Ranges {
		if got := r.Len(); got != 250 {
			t.Errorf("range %d: expected length 250, got %d", i, got)
		}
	}
}

func TestBuildPlanLeavesChunkSizeAloneWhenWithinBudget(t *testing.T) {
	// size/cs = 3, not greater than connections (5), so cs is untouched
	// and the plan ends up with fewer ranges than connections.
	plan, err := chunk.BuildPlan(90_000, 5, 30_000)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if len(plan.Ranges) != 3 {
		t.Fatalf("expected 3 ranges, got %d: %+v", len(plan.Ranges), plan.Ranges)
	}
}

func TestBuildPlanInvariants(t *testing.T) {
	cases := []struct {
		size        int64
		connections int
		chunkSize   int64
	}{
		{100_000, 5, 30_000},
		{1000, 4, 100},
		{1, 4, 100},
		{7, 3, 2},
		{12_345_678, 8, 1_048_576},
	}

	for _, c := range cases {
		plan, err := chunk.BuildPlan(c.size, c.connections, c.chunkSize)
		if err != nil {
			t.Fatalf("BuildPlan(%d, %d, %d) failed: %v", c.size, c.connections, c.chunkSize, err)
		}
		if plan.TotalSize != c.size {
			t.Errorf("TotalSize = %d, want %d", plan.TotalSize, c.size)
		}
		if len(plan.Ranges) == 0 {
			t.Fatalf("expected at least one range")
		}

		var covered int64
		for i, r := range plan.Ranges {
			if r.ID != i {
				t.Errorf("range %d has ID %d", i, r.ID)
			}
			if r.Lo != covered {
				t.Errorf("range %d starts at %d, want %d (gap or overlap)", i, r.Lo, covered)
			}
			if r.Hi < r.Lo {
				t.Errorf("range %d has Hi %d < Lo %d", i, r.Hi, r.Lo)
			}
			covered = r.Hi + 1
		}
		if covered != c.size {
			t.Errorf("ranges cover %d bytes, want %d", covered, c.size)
		}
	}
}

func TestBuildPlanRejectsNonPositiveSize(t *testing.T) {
	if _, err := chunk.BuildPlan(0, 4, 100); err == nil {
		t.Fatalf("expected an error for zero size")
	}
	if _, err := chunk.BuildPlan(-5, 4, 100); err == nil {
		t.Fatalf("expected an error for negative size")
	}
}

func TestBuildPlanSingleRangeForTinyResource(t *testing.T) {
	plan, err := chunk.BuildPlan(10, 4, 100)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if len(plan.Ranges) != 1 {
		t.Fatalf("expected a single range for a resource smaller than the chunk size, got %d", len(plan.Ranges))
	}
	if plan.Ranges[0].Lo != 0 || plan.Ranges[0].Hi != 9 {
		t.Errorf("unexpected range: %+v", plan.Ranges[0])
	}
}
