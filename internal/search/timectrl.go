package search

import (
	"time"

	"github.com/hailam/chessplay/internal/board"
)

// Limits carries the UCI go-command time control, the same shape the
// teacher's UCILimits uses for its iterative-deepening search.
type Limits struct {
	Time      [2]time.Duration // wtime, btime
	Inc       [2]time.Duration // winc, binc
	MovesToGo int
	MoveTime  time.Duration
	Nodes     uint64
	Infinite  bool
	Ponder    bool
}

// TimeControl allocates and tracks the optimum/maximum deadline for one
// search, the same optimum/maximum split the teacher's TimeManager uses,
// generalized so ExpandTree can extend the optimum when the top two root
// edges are close and cut it short when one is clearly best (spec §4.6).
type TimeControl struct {
	optimumTime time.Duration
	maximumTime time.Duration
	startTime   time.Time
}

// NewTimeControl allocates optimum/maximum deadlines for a search in
// position us at ply, following limits.
func NewTimeControl(limits Limits, us board.Color, ply int) *TimeControl {
	tc := &TimeControl{startTime: time.Now()}

	if limits.MoveTime > 0 {
		tc.optimumTime = limits.MoveTime
		tc.maximumTime = limits.MoveTime
		return tc
	}
	if limits.Infinite || (limits.Time[us] == 0 && limits.MoveTime == 0) {
		tc.optimumTime = time.Hour
		tc.maximumTime = time.Hour
		return tc
	}

	timeLeft := limits.Time[us]
	inc := limits.Inc[us]

	mtg := limits.MovesToGo
	if mtg == 0 {
		mtg = 50 - ply/4
		if mtg < 10 {
			mtg = 10
		}
		if mtg > 50 {
			mtg = 50
		}
	}

	baseTime := timeLeft / time.Duration(mtg)
	baseTime += inc * 9 / 10
	tc.optimumTime = baseTime
	if ply < 8 {
		tc.optimumTime = baseTime * 85 / 100
	}

	maxFromOptimum := tc.optimumTime * 5
	maxFromRemaining := timeLeft * 8 / 10
	if maxFromOptimum < maxFromRemaining {
		tc.maximumTime = maxFromOptimum
	} else {
		tc.maximumTime = maxFromRemaining
	}

	safetyMargin := timeLeft * 95 / 100
	if tc.maximumTime > safetyMargin {
		tc.maximumTime = safetyMargin
	}

	if tc.optimumTime < 10*time.Millisecond {
		tc.optimumTime = 10 * time.Millisecond
	}
	if tc.maximumTime < 50*time.Millisecond {
		tc.maximumTime = 50 * time.Millisecond
	}
	return tc
}

// Elapsed returns the time elapsed since the search started.
func (tc *TimeControl) Elapsed() time.Duration { return time.Since(tc.startTime) }

// ShouldStop reports whether the maximum deadline has passed.
func (tc *TimeControl) ShouldStop() bool { return tc.Elapsed() >= tc.maximumTime }

// PastOptimum reports whether the optimum (target) deadline has passed.
func (tc *TimeControl) PastOptimum() bool { return tc.Elapsed() >= tc.optimumTime }

// ExtendOptimum lengthens the optimum deadline when the top two root edges
// remain close, up to the maximum deadline - the spec's "extension when the
// top two edges are close".
func (tc *TimeControl) ExtendOptimum(factor int) {
	extended := tc.optimumTime * time.Duration(factor) / 100
	if extended > tc.maximumTime {
		extended = tc.maximumTime
	}
	if extended > tc.optimumTime {
		tc.optimumTime = extended
	}
}

// ShrinkOptimum shortens the optimum deadline when one root edge is very
// clearly best and well-visited - the spec's "early exit" case.
func (tc *TimeControl) ShrinkOptimum(factor int) {
	shrunk := tc.optimumTime * time.Duration(factor) / 100
	if shrunk < tc.optimumTime {
		tc.optimumTime = shrunk
	}
}
