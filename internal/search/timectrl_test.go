package search

import (
	"testing"
	"time"

	"github.com/hailam/chessplay/internal/board"
)

func TestNewTimeControlFixedMoveTime(t *testing.T) {
	tc := NewTimeControl(Limits{MoveTime: 500 * time.Millisecond}, board.White, 0)
	if tc.optimumTime != 500*time.Millisecond || tc.maximumTime != 500*time.Millisecond {
		t.Errorf("expected both deadlines pinned to the move time, got optimum=%v maximum=%v", tc.optimumTime, tc.maximumTime)
	}
}

func TestNewTimeControlInfiniteSearchUsesLongDeadlines(t *testing.T) {
	tc := NewTimeControl(Limits{Infinite: true}, board.White, 0)
	if tc.ShouldStop() {
		t.Error("expected an infinite search to not be over immediately")
	}
}

func TestNewTimeControlSplitsOptimumBelowMaximum(t *testing.T) {
	limits := Limits{Time: [2]time.Duration{20 * time.Second, 20 * time.Second}}
	tc := NewTimeControl(limits, board.White, 0)
	if tc.optimumTime >= tc.maximumTime {
		t.Errorf("expected optimum < maximum, got optimum=%v maximum=%v", tc.optimumTime, tc.maximumTime)
	}
	if tc.maximumTime > limits.Time[board.White]*95/100 {
		t.Errorf("expected maximum to respect the safety margin, got %v", tc.maximumTime)
	}
}

func TestExtendOptimumNeverExceedsMaximum(t *testing.T) {
	tc := NewTimeControl(Limits{Time: [2]time.Duration{10 * time.Second, 10 * time.Second}}, board.White, 0)
	for i := 0; i < 10; i++ {
		tc.ExtendOptimum(200)
	}
	if tc.optimumTime > tc.maximumTime {
		t.Errorf("expected ExtendOptimum to clamp at the maximum, got optimum=%v maximum=%v", tc.optimumTime, tc.maximumTime)
	}
}

func TestShrinkOptimumOnlyShrinks(t *testing.T) {
	tc := NewTimeControl(Limits{Time: [2]time.Duration{10 * time.Second, 10 * time.Second}}, board.White, 0)
	before := tc.optimumTime
	tc.ShrinkOptimum(50)
	if tc.optimumTime >= before {
		t.Errorf("expected ShrinkOptimum(50) to shorten the deadline, before=%v after=%v", before, tc.optimumTime)
	}
	tc.ShrinkOptimum(150)
	if tc.optimumTime != before/2 {
		t.Errorf("expected ShrinkOptimum(>100) to be a no-op, got %v want %v", tc.optimumTime, before/2)
	}
}
