package search

import (
	"errors"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/config"
	"github.com/hailam/chessplay/internal/infer"
	"github.com/hailam/chessplay/internal/mcts"
	"github.com/hailam/chessplay/internal/tablebase"
)

// ErrNotInitialized is returned when a call needs a root position that
// Initialize has not yet set up.
var ErrNotInitialized = errors.New("search: orchestrator has no root position")

// ErrIllegalMove is returned by Advance when the move does not match any
// edge of the current root.
var ErrIllegalMove = errors.New("search: move is not legal in the current position")

// Orchestrator owns the arena, the inference backend pool, and the worker
// pool for one engine instance - the spec §4.6 "Search orchestrator". It
// follows the teacher Engine's shape (one long-lived object wired to a
// position and a pool of search workers) generalized from alpha-beta
// iterative deepening to tree search over a persistent arena.
type Orchestrator struct {
	cfg   config.Config
	pool  *infer.BackendPool
	arena *mcts.Arena

	mu           sync.Mutex
	root         *mcts.Node
	gameHasEnded bool

	numWorkers int

	batchMu sync.Mutex
	batch   []*mcts.Node
	inferMu sync.Mutex

	searching     atomic.Bool
	stopRequested atomic.Bool

	rng *rand.Rand
}

// NewOrchestrator wires a backend pool and configuration into a fresh
// orchestrator with an empty arena.
func NewOrchestrator(pool *infer.BackendPool, maxNodes int64, cfg config.Config) *Orchestrator {
	numWorkers := cfg.Threads
	if numWorkers <= 0 {
		numWorkers = 1
	}
	arena := mcts.NewArena(maxNodes)
	arena.Prober = tablebase.Stub{}
	return &Orchestrator{
		cfg:        cfg,
		pool:       pool,
		arena:      arena,
		numWorkers: numWorkers,
		batch:      make([]*mcts.Node, 0, cfg.MaxBatchSize),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Initialize resets the arena and sets the root position from fen, the
// spec's "initialize" lifecycle call.
func (o *Orchestrator) Initialize(fen string) error {
	pos, err := board.ParseFEN(fen)
	if err != nil {
		return err
	}
	moves := pos.GenerateLegalMoves()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.arena.Clear()
	o.root = mcts.NewNode(pos, moves, nil, 0, false, 0)
	o.gameHasEnded = false
	return nil
}

// Advance rebases the search onto the position after m, expanding the
// matching root edge first if no prior search ever reached it. It reports
// gameHasEnded (via GameHasEnded) when m ends the game.
func (o *Orchestrator) Advance(m board.Move) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.root == nil {
		return ErrNotInitialized
	}

	var edge *mcts.Edge
	for i := range o.root.Edges {
		if o.root.Edges[i].Move == m {
			edge = &o.root.Edges[i]
			break
		}
	}
	if edge == nil {
		return ErrIllegalMove
	}

	if !edge.Expanded() {
		ok, err := edge.Expand(o.root, o.arena)
		if err != nil {
			return err
		}
		if !ok {
			o.gameHasEnded = true
			return nil
		}
	}
	if edge.IsTerminal() {
		o.gameHasEnded = true
		return nil
	}

	newRoot := edge.Child()
	o.arena.Advance(newRoot)
	o.root = newRoot
	return nil
}

// GameHasEnded reports whether the last Advance call reached a terminal
// position.
func (o *Orchestrator) GameHasEnded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gameHasEnded
}

// Root returns the current search root.
func (o *Orchestrator) Root() *mcts.Node {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.root
}

// Nodes reports the number of nodes currently charged against the arena's
// budget, for UCI "info nodes"/"info nps" reporting.
func (o *Orchestrator) Nodes() int64 {
	return o.arena.LiveNodes()
}

// PrepareSearch evaluates the root if it has not been evaluated yet and
// mixes Dirichlet noise into its priors, the spec's "prepare_search" step.
// It reports noSearchNeeded when the root is already solved or has at most
// one legal move, so the caller can skip ExpandTree entirely.
func (o *Orchestrator) PrepareSearch() (noSearchNeeded bool, err error) {
	root := o.Root()
	if root == nil {
		return false, ErrNotInitialized
	}
	if root.IsSolved() || len(root.Edges) <= 1 {
		return true, nil
	}

	if !root.Evaluated {
		backend, err := o.pool.Select()
		if err != nil {
			return false, err
		}
		tok := mcts.NewWorkerToken()
		if err := infer.BlockingInference(backend, tok, []*mcts.Node{root}, o.arena.HistoryPositions(), o.cfg.SoftmaxTemperature); err != nil {
			return false, err
		}
	}

	o.addDirichletNoise(root)
	return false, nil
}

// addDirichletNoise mixes DirichletEpsilon of symmetric Dirichlet(alpha)
// noise into root's priors, the standard AlphaZero/Leela root-exploration
// trick (spec §4.5, "root-only Dirichlet noise mixed into the priors").
func (o *Orchestrator) addDirichletNoise(root *mcts.Node) {
	n := len(root.Edges)
	if n == 0 || o.cfg.DirichletEpsilon <= 0 {
		return
	}
	noise := sampleDirichlet(o.rng, o.cfg.DirichletAlpha, n)
	eps := o.cfg.DirichletEpsilon
	for i := range root.Edges {
		p := root.Edges[i].Prior()
		root.Edges[i].SetPrior((1-eps)*p + eps*noise[i])
	}
}

// ExpandTree runs the worker pool against the current root until limits or
// nodeLimit are met, or StopSearch is called - the spec's "expand_tree"
// lifecycle call. It blocks until every worker has gone idle and the final
// shared batch has drained.
func (o *Orchestrator) ExpandTree(limits Limits, nodeLimit int64) error {
	root := o.Root()
	if root == nil {
		return ErrNotInitialized
	}

	tc := NewTimeControl(limits, root.Position.SideToMove, int(root.Position.FullMoveNumber)*2)

	o.batchMu.Lock()
	o.batch = o.batch[:0]
	o.batchMu.Unlock()

	stopCh := make(chan struct{})
	o.stopRequested.Store(false)
	o.searching.Store(true)
	defer o.searching.Store(false)

	var eg errgroup.Group
	for i := 0; i < o.numWorkers; i++ {
		tok := mcts.NewWorkerToken()
		eg.Go(func() error {
			o.workerLoop(tok, stopCh)
			return nil
		})
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if nodeLimit > 0 && o.arena.LiveNodes() >= nodeLimit {
			break
		}
		o.adjustDeadline(tc, root)
		if o.stopRequested.Load() || tc.ShouldStop() || tc.PastOptimum() {
			break
		}
	}

	close(stopCh)
	eg.Wait()
	o.drainBatch()
	return nil
}

// adjustDeadline samples the two most-visited root edges and nudges tc's
// optimum deadline per spec §4.6: shrink it when the best edge is both
// well-visited and far ahead of the runner-up, extend it when the two
// remain close. The visit-ratio thresholds below are this port's own
// reading of "very clearly best" / "close", since the spec names the
// behavior without numeric cutoffs.
func (o *Orchestrator) adjustDeadline(tc *TimeControl, root *mcts.Node) {
	if len(root.Edges) < 2 {
		return
	}
	var bestVisits, secondVisits uint32
	for i := range root.Edges {
		v := root.Edges[i].VisitCount()
		switch {
		case v > bestVisits:
			secondVisits = bestVisits
			bestVisits = v
		case v > secondVisits:
			secondVisits = v
		}
	}
	if bestVisits < 200 {
		return
	}
	ratio := float32(secondVisits) / float32(bestVisits)
	switch {
	case ratio < 0.1:
		tc.ShrinkOptimum(50)
	case ratio > 0.8:
		tc.ExtendOptimum(150)
	}
}

// StopSearch requests the running ExpandTree call to stop, then blocks
// until it has (every worker idle, final batch drained) - the spec's
// "stop_search: set paused flag; spin until every worker reports idle".
func (o *Orchestrator) StopSearch() {
	o.stopRequested.Store(true)
	for o.searching.Load() {
		runtime.Gosched()
	}
}

// FreeMemory reports whether the original compaction heuristic would have
// fired for the move that just reached the current root (irreversibleMove,
// with deadNodeEstimate counting nodes discarded by that move). In this
// port Arena.Advance already discards the unreachable subtree and leans on
// the garbage collector to reclaim it on every Advance call, not only when
// these thresholds trip, so FreeMemory performs no node copying itself; it
// exists so a caller can log when a compaction pass would have been due,
// and to keep the orchestrator's lifecycle matching the spec's five calls.
func (o *Orchestrator) FreeMemory(irreversibleMove bool, deadNodeEstimate int64) bool {
	if !irreversibleMove || deadNodeEstimate < int64(o.cfg.DeallocationMinimum) {
		return false
	}
	return deadNodeEstimate*int64(o.cfg.DeallocationFactor) >= o.arena.LiveNodes()
}

// workerLoop is one worker's share of the spec §4.6 pseudocode: descend by
// PUCT from the root, expand or reuse a transposition at the first
// unexpanded edge found, enqueue newly evaluated nodes into the shared
// batch, and back off briefly after repeated idle descents. Run under an
// errgroup.Group rather than a bare sync.WaitGroup so a future worker error
// path has somewhere to report to without changing ExpandTree's shutdown
// shape.
func (o *Orchestrator) workerLoop(tok *mcts.WorkerToken, stopCh <-chan struct{}) {
	failCount := 0

outer:
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		root := o.Root()
		if root == nil {
			return
		}

		parent := root
		parent.Lock(tok)
		edge := parent.PUCTSelect(o.cfg.CPUCTRoot)
		for edge != nil && edge.Expanded() {
			if edge.IsTerminal() {
				parent.Unlock()
				continue outer
			}
			child := edge.Child()
			parent.Unlock()
			if !child.Evaluated {
				if !o.waitForNodeEvaluation(child, stopCh) {
					return
				}
			}
			parent = child
			parent.Lock(tok)
			edge = parent.PUCTSelect(o.cfg.CPUCT)
		}

		idle := true
		if edge != nil {
			expanded, err := edge.Expand(parent, o.arena)
			if err != nil {
				parent.Unlock()
				return
			}
			if expanded {
				idle = false
				child := edge.Child()
				if twin := o.arena.Transposition(child.Position.Hash); twin != nil && twin.Evaluated {
					mcts.ReuseTransposition(tok, child, twin)
				} else {
					o.arena.RecordTransposition(child.Position.Hash, child)
					o.enqueueBatch(child)
				}
			} else if root.IsSolved() {
				parent.Unlock()
				return
			}
		}
		parent.Unlock()

		if idle {
			failCount++
			if failCount >= 10 {
				select {
				case <-stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				failCount = 0
			}
		} else {
			failCount = 0
		}
	}
}

// waitForNodeEvaluation spins until n has been evaluated by some other
// worker's shared-batch inference, or stopCh closes. It returns false in
// the latter case so the caller can exit immediately.
func (o *Orchestrator) waitForNodeEvaluation(n *mcts.Node, stopCh <-chan struct{}) bool {
	for !n.Evaluated {
		select {
		case <-stopCh:
			return false
		default:
		}
		runtime.Gosched()
	}
	return true
}

// enqueueBatch adds n to the shared inference batch under the insertion
// lock, running process_shared_batch immediately once the batch is full -
// the spec §4.6 "Shared batch protocol".
func (o *Orchestrator) enqueueBatch(n *mcts.Node) {
	o.batchMu.Lock()
	o.batch = append(o.batch, n)
	full := len(o.batch) >= o.cfg.MaxBatchSize
	o.batchMu.Unlock()
	if full {
		o.processSharedBatch()
	}
}

// processSharedBatch swaps out the shared buffer under the insertion lock,
// then runs inference on the swapped-out buffer under the inference lock -
// so at most one inference call runs at a time while every worker keeps
// selecting and filling the next buffer.
func (o *Orchestrator) processSharedBatch() {
	o.batchMu.Lock()
	pending := o.batch
	o.batch = make([]*mcts.Node, 0, o.cfg.MaxBatchSize)
	o.batchMu.Unlock()

	if len(pending) == 0 {
		return
	}

	o.inferMu.Lock()
	defer o.inferMu.Unlock()

	backend, err := o.pool.Select()
	if err != nil {
		return
	}
	tok := mcts.NewWorkerToken()
	_ = infer.BlockingInference(backend, tok, pending, o.arena.HistoryPositions(), o.cfg.SoftmaxTemperature)
}

// drainBatch runs inference on whatever is left in the shared batch once
// every worker has stopped selecting, so no node is left unevaluated at
// the end of a search.
func (o *Orchestrator) drainBatch() {
	o.processSharedBatch()
}

// sampleDirichlet draws one sample from a symmetric Dirichlet(alpha, ...,
// alpha) distribution over n outcomes, via independent Gamma(alpha, 1)
// draws normalized to sum to 1 - the standard construction. No Dirichlet or
// gamma sampler appears anywhere in the retrieval pack's actual code (only
// in an unused go.mod manifest), so this draws from stdlib math/rand
// rather than reaching for an unverified import.
func sampleDirichlet(rng *rand.Rand, alpha float32, n int) []float32 {
	samples := make([]float32, n)
	var sum float32
	for i := range samples {
		samples[i] = sampleGamma(rng, alpha)
		sum += samples[i]
	}
	if sum > 0 {
		for i := range samples {
			samples[i] /= sum
		}
	}
	return samples
}

// sampleGamma draws one Gamma(shape, 1) sample via the Marsaglia-Tsang
// method (boosted by an extra uniform draw when shape < 1, per Marsaglia &
// Tsang 2000).
func sampleGamma(rng *rand.Rand, shape float32) float32 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * float32(math.Pow(u, 1/float64(shape)))
	}
	d := float64(shape) - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return float32(d * v)
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return float32(d * v)
		}
	}
}
