package infer

import (
	"math"
	"runtime"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/encoder"
	"github.com/hailam/chessplay/internal/mcts"
)

func spin() { runtime.Gosched() }

// historyFormat and historyFill are fixed for every call into this package:
// the original engine's network_manager.h always encodes the legacy
// auxiliary-plane layout with no board-symmetry folding, walking history
// until it runs dry rather than repeating the starting position.
const (
	historyFormat = encoder.FormatLegacy
	historyFill   = encoder.FillNone
)

// buildHistory collects the encoded history for n, oldest first: n's own
// ancestors within the live tree (walking Node.Parent, the Go equivalent of
// network_manager.h's blocking_inference walking up to 8 plies of
// node->parent), extended with rootHistory - the positions Arena.Advance
// folded into HistoryRecord - for ancestors that fell outside the live tree
// after the search was rebased onto a new root.
func buildHistory(n *mcts.Node, rootHistory []*board.Position) encoder.History {
	var live []*board.Position
	for cur := n; cur != nil; cur = cur.Parent {
		live = append(live, cur.Position)
	}
	for i, j := 0, len(live)-1; i < j; i, j = i+1, j-1 {
		live[i], live[j] = live[j], live[i]
	}
	if len(live) >= encoder.MoveHistory || len(rootHistory) == 0 {
		return encoder.History(live)
	}
	h := make(encoder.History, 0, len(rootHistory)+len(live))
	h = append(h, rootHistory...)
	h = append(h, live...)
	return h
}

// BlockingInference runs nodes through backend and writes the result
// directly into each node, following network_manager.h's blocking_inference:
// encode each node's history, run the batch forward, then for every node
// compute Q = WDL[win]-WDL[loss], record it (backing propagating -Q into the
// parent through Node.Evaluate), clamp and store the moves-left estimate,
// gather the policy logits at this node's legal moves, softmax them with
// temperature, and store the result as each edge's prior before sorting
// edges by descending prior. rootHistory supplies ancestor positions for
// nodes near the live tree's root, per buildHistory.
func BlockingInference(backend Backend, tok *mcts.WorkerToken, nodes []*mcts.Node, rootHistory []*board.Position, softmaxTemperature float32) error {
	if len(nodes) == 0 {
		return nil
	}

	batch := make([]encoder.InputPlanes, len(nodes))
	flipped := make([]bool, len(nodes))
	for i, n := range nodes {
		h := buildHistory(n, rootHistory)
		planes, _ := encoder.Encode(h, historyFormat, encoder.MoveHistory, historyFill)
		batch[i] = planes
		flipped[i] = n.Position.SideToMove == board.Black
	}

	outputs, err := backend.Forward(batch)
	if err != nil {
		return err
	}

	for i, n := range nodes {
		out := &outputs[i]
		q := out.WDL[2] - out.WDL[0]

		// Edges get their priors and final order set before Evaluate flips
		// Evaluated to true, so a concurrent WaitForNodeEvaluation never
		// observes a node that looks done but whose edges aren't ready yet.
		n.Lock(tok)
		n.MovesLeft = clampMovesLeft(out.MovesLeft)
		applyPolicy(n, out.Policy, flipped[i], softmaxTemperature)
		n.Evaluate(tok, q)
		n.Unlock()
	}
	return nil
}

func clampMovesLeft(v float32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// applyPolicy gathers the network's policy logits at n's legal moves,
// applies a temperature-scaled softmax over just those logits (not the full
// 5120-wide output), and stores the normalized result as each edge's prior.
func applyPolicy(n *mcts.Node, policy []float32, flipped bool, temperature float32) {
	if len(n.Edges) == 0 {
		return
	}
	gathered := make([]float32, len(n.Edges))
	max := float32(math.Inf(-1))
	for i := range n.Edges {
		idx := ToPolicyIndex(n.Edges[i].Move)
		if flipped {
			idx = ToFlippedPolicyIndex(n.Edges[i].Move)
		}
		v := policy[idx]
		gathered[i] = v
		if v > max {
			max = v
		}
	}

	tempRecip := float32(1)
	if temperature > 0 {
		tempRecip = 1 / temperature
	}

	var sum float32
	for i, v := range gathered {
		e := float32(math.Exp(float64((v - max) * tempRecip)))
		gathered[i] = e
		sum += e
	}
	if sum > 0 {
		for i := range gathered {
			gathered[i] /= sum
		}
	}

	for i := range n.Edges {
		n.Edges[i].SetPrior(gathered[i])
	}
	n.SortEdgesByPriors()
}

// WaitForNodeEvaluation blocks until n has been evaluated, for a worker that
// selected into a node another worker is already expanding. The original
// engine's equivalent (network_manager.h's wait_for_node_evaluation) parks
// on a condition variable signaled by blocking_inference; this port has no
// async pipeline to signal one, so callers spin with runtime.Gosched the
// same way the node's own reentrant lock does, via spin.
func WaitForNodeEvaluation(n *mcts.Node) {
	for !n.Evaluated {
		spin()
	}
}
