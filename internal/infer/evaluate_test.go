package infer

import (
	"testing"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/encoder"
	"github.com/hailam/chessplay/internal/mcts"
)

func TestBlockingInferenceSetsValueAndPriorsAndBacksUpParent(t *testing.T) {
	rootPos := board.NewPosition()
	rootMoves := rootPos.GenerateLegalMoves()
	root := mcts.NewNode(rootPos, rootMoves, nil, 0, false, 0)

	childPos := board.NewPosition()
	childMoves := childPos.GenerateLegalMoves()
	child := mcts.NewNode(childPos, childMoves, root, 0, false, 0)
	root.Edges[0].SetChild(child)

	backend := &fakeBackend{
		device: DeviceCPU,
		forward: func(batch []encoder.InputPlanes) ([]Output, error) {
			outs := make([]Output, len(batch))
			for i := range outs {
				policy := make([]float32, PolicySize)
				for j := range policy {
					policy[j] = float32(j % 5)
				}
				outs[i] = Output{WDL: [3]float32{0.2, 0.3, 0.5}, Policy: policy, MovesLeft: 40}
			}
			return outs, nil
		},
	}

	tok := mcts.NewWorkerToken()
	if err := BlockingInference(backend, tok, []*mcts.Node{child}, nil, 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const wantQ = float32(0.3)
	if diff := child.AverageValue() - wantQ; diff > 1e-5 || diff < -1e-5 {
		t.Errorf("expected child Q ~= %f, got %f", wantQ, child.AverageValue())
	}
	if !child.Evaluated {
		t.Error("expected child to be marked evaluated")
	}
	if child.MovesLeft != 40 {
		t.Errorf("expected MovesLeft 40, got %d", child.MovesLeft)
	}

	var priorSum float32
	for i := range child.Edges {
		if child.Edges[i].Prior() <= 0 {
			t.Errorf("expected a positive prior on edge %d, got %f", i, child.Edges[i].Prior())
		}
		priorSum += child.Edges[i].Prior()
	}
	if priorSum < 0.99 || priorSum > 1.01 {
		t.Errorf("expected priors to sum to ~1, got %f", priorSum)
	}

	if diff := root.AverageValue() - (-wantQ); diff > 1e-5 || diff < -1e-5 {
		t.Errorf("expected root Q backed up as -child Q ~= %f, got %f", -wantQ, root.AverageValue())
	}
}

func TestBlockingInferenceEmptyBatchIsNoop(t *testing.T) {
	backend := &fakeBackend{
		device: DeviceCPU,
		forward: func(batch []encoder.InputPlanes) ([]Output, error) {
			t.Fatal("Forward should not be called for an empty batch")
			return nil, nil
		},
	}
	if err := BlockingInference(backend, mcts.NewWorkerToken(), nil, nil, 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
