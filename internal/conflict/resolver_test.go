package conflict

import (
	"testing"
	"time"

	"github.com/xelth-com/cdchub/internal/models"
	"github.com/xelth-com/cdchub/internal/vclock"
)

func TestClassifyDetectsConcurrent(t *testing.T) {
	local := models.Change{VClock: vclock.Clock{"a": 2, "b": 1}}
	incoming := models.Change{VClock: vclock.Clock{"a": 1, "b": 2}}

	if Classify(local, incoming) != vclock.Concurrent {
		t.Errorf("expected Concurrent, got %v", Classify(local, incoming))
	}
}

func TestResolveLastWriteWinsPicksLaterTimestamp(t *testing.T) {
	r := New(LastWriteWins, nil)
	now := time.Now()

	local := models.Change{Source: "branch-a", CreatedAt: now}
	incoming := models.Change{Source: "branch-b", CreatedAt: now.Add(time.Second)}

	res := r.Resolve(local, incoming)
	if res.Winner.Source != "branch-b" {
		t.Errorf("expected branch-b to win on later timestamp, got %s", res.Winner.Source)
	}
}

func TestResolveLastWriteWinsTiesByBranchID(t *testing.T) {
	r := New(LastWriteWins, nil)
	now := time.Now()

	local := models.Change{Source: "branch-a", CreatedAt: now}
	incoming := models.Change{Source: "branch-z", CreatedAt: now}

	res := r.Resolve(local, incoming)
	if res.Winner.Source != "branch-a" {
		t.Errorf("expected lexicographically-earlier branch-a to win tie, got %s", res.Winner.Source)
	}
}

func TestResolveSourcePriority(t *testing.T) {
	priority := map[string]int{"branch-a": 10, "branch-b": 1}
	r := New(SourcePriority, priority)

	local := models.Change{Source: "branch-b", CreatedAt: time.Now()}
	incoming := models.Change{Source: "branch-a", CreatedAt: time.Now().Add(-time.Hour)}

	res := r.Resolve(local, incoming)
	if res.Winner.Source != "branch-a" {
		t.Errorf("expected higher-priority branch-a to win despite older timestamp, got %s", res.Winner.Source)
	}
}

func TestResolveManualParksForAdmin(t *testing.T) {
	r := New(Manual, nil)
	res := r.Resolve(models.Change{Source: "branch-a"}, models.Change{Source: "branch-b"})

	if !res.NeedsAdmin {
		t.Error("expected Manual strategy to require admin resolution")
	}
}

func TestDefaultStrategyIsLastWriteWins(t *testing.T) {
	r := New("", nil)
	now := time.Now()
	res := r.Resolve(
		models.Change{Source: "branch-a", CreatedAt: now},
		models.Change{Source: "branch-b", CreatedAt: now.Add(time.Minute)},
	)
	if res.Strategy != LastWriteWins {
		t.Errorf("expected blank strategy to default to LastWriteWins, got %s", res.Strategy)
	}
}
