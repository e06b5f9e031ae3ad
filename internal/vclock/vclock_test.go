package vclock

import "testing"

func TestMergeIsCommutative(t *testing.T) {
	a := Clock{"branch-a": 3, "branch-b": 1}
	b := Clock{"branch-a": 1, "branch-b": 5, "branch-c": 2}

	ab := Merge(a, b)
	ba := Merge(b, a)

	if Compare(ab, ba) != Equal {
		t.Errorf("expected merge to be commutative, got %v vs %v", ab, ba)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	a := Clock{"branch-a": 3, "branch-b": 1}
	merged := Merge(a, a)

	if Compare(a, merged) != Equal {
		t.Errorf("expected merge(a, a) == a, got %v", merged)
	}
}

func TestMergeIsAssociative(t *testing.T) {
	a := Clock{"branch-a": 1}
	b := Clock{"branch-b": 2}
	c := Clock{"branch-c": 3}

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))

	if Compare(left, right) != Equal {
		t.Errorf("expected merge to be associative, got %v vs %v", left, right)
	}
}

func TestCompareBeforeAndAfter(t *testing.T) {
	older := Clock{"branch-a": 1, "branch-b": 1}
	newer := Clock{"branch-a": 2, "branch-b": 1}

	if Compare(older, newer) != Before {
		t.Errorf("expected older Before newer, got %v", Compare(older, newer))
	}
	if Compare(newer, older) != After {
		t.Errorf("expected newer After older, got %v", Compare(newer, older))
	}
}

func TestCompareConcurrent(t *testing.T) {
	a := Clock{"branch-a": 2, "branch-b": 1}
	b := Clock{"branch-a": 1, "branch-b": 2}

	if Compare(a, b) != Concurrent {
		t.Errorf("expected concurrent clocks, got %v", Compare(a, b))
	}
	if !ConcurrentWith(a, b) {
		t.Error("expected ConcurrentWith to agree with Compare")
	}
}

func TestHappensBeforeRequiresStrictInequality(t *testing.T) {
	a := Clock{"branch-a": 1}
	b := Clock{"branch-a": 1}

	if HappensBefore(a, b) {
		t.Error("equal clocks must not happen-before each other")
	}

	c := Clock{"branch-a": 2}
	if !HappensBefore(a, c) {
		t.Error("expected a to happen-before c")
	}
}

func TestValidateRejectsEmptyBranchID(t *testing.T) {
	c := Clock{"": 1}
	if err := c.Validate(); err == nil {
		t.Error("expected error for empty branch id")
	}
}

func TestAdvanceOnlyTouchesOwnComponent(t *testing.T) {
	c := New()
	c.Advance("branch-a")
	c.Advance("branch-a")

	if c["branch-a"] != 2 {
		t.Errorf("expected branch-a at 2, got %d", c["branch-a"])
	}
	if len(c) != 1 {
		t.Errorf("expected only one component, got %d", len(c))
	}
}
