package infer

import (
	"os"
	"testing"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/encoder"
)

func fillRandomWeights(b *CPUBackend) {
	fill := func(s []float32, seed int) {
		for i := range s {
			s[i] = float32((i+seed)%7-3) * 0.1
		}
	}
	fill(b.inputConv.Weights, 1)
	fill(b.inputConv.Biases, 2)
	for _, blk := range b.blocks {
		fill(blk.Conv1.Weights, 3)
		fill(blk.Conv1.Biases, 4)
		fill(blk.Conv2.Weights, 5)
		fill(blk.Conv2.Biases, 6)
		fill(blk.SEFC1.Weights, 7)
		fill(blk.SEFC1.Biases, 8)
		fill(blk.SEFC2.Weights, 9)
		fill(blk.SEFC2.Biases, 10)
	}
	fill(b.policyConv.Weights, 11)
	fill(b.policyConv.Biases, 12)
	fill(b.valueConv.Weights, 13)
	fill(b.valueConv.Biases, 14)
	fill(b.valueFC1.Weights, 15)
	fill(b.valueFC1.Biases, 16)
	fill(b.valueFC2.Weights, 17)
	fill(b.valueFC2.Biases, 18)
	fill(b.movesConv.Weights, 19)
	fill(b.movesConv.Biases, 20)
	fill(b.movesFC1.Weights, 21)
	fill(b.movesFC1.Biases, 22)
	fill(b.movesFC2.Weights, 23)
	fill(b.movesFC2.Biases, 24)
}

func TestCPUBackendForwardProducesValidOutputShape(t *testing.T) {
	b := NewCPUBackend(1, 8, 4)
	fillRandomWeights(b)

	pos := board.NewPosition()
	planes, _ := encoder.Encode(encoder.History{pos}, encoder.FormatLegacy, encoder.MoveHistory, encoder.FillNone)

	out, err := b.Forward([]encoder.InputPlanes{planes})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if len(out[0].Policy) != PolicySize {
		t.Errorf("expected policy of size %d, got %d", PolicySize, len(out[0].Policy))
	}

	var sum float32
	for _, v := range out[0].WDL {
		sum += v
	}
	if sum < 0.99 || sum > 1.01 {
		t.Errorf("expected WDL to sum to ~1, got %v (sum %f)", out[0].WDL, sum)
	}
	if out[0].MovesLeft < 0 {
		t.Errorf("expected non-negative moves-left, got %f", out[0].MovesLeft)
	}
}

func TestCPUBackendWeightsRoundTrip(t *testing.T) {
	b := NewCPUBackend(2, 8, 4)
	fillRandomWeights(b)

	f, err := os.CreateTemp(t.TempDir(), "weights-*.bin")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	if err := b.SaveWeights(path); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}

	b2 := NewCPUBackend(2, 8, 4)
	if err := b2.LoadWeights(path); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}

	for i := range b.inputConv.Weights {
		if b.inputConv.Weights[i] != b2.inputConv.Weights[i] {
			t.Fatalf("input convolution weights mismatch at %d: %f vs %f", i, b.inputConv.Weights[i], b2.inputConv.Weights[i])
		}
	}
	for i := range b.blocks[1].SEFC2.Weights {
		if b.blocks[1].SEFC2.Weights[i] != b2.blocks[1].SEFC2.Weights[i] {
			t.Fatalf("block 1 SE FC2 weights mismatch at %d", i)
		}
	}
}

func TestCPUBackendLoadWeightsRejectsShapeMismatch(t *testing.T) {
	b := NewCPUBackend(2, 8, 4)
	fillRandomWeights(b)

	f, err := os.CreateTemp(t.TempDir(), "weights-*.bin")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	path := f.Name()
	f.Close()
	if err := b.SaveWeights(path); err != nil {
		t.Fatalf("SaveWeights failed: %v", err)
	}

	wrongShape := NewCPUBackend(4, 8, 4)
	if err := wrongShape.LoadWeights(path); err == nil {
		t.Error("expected an error loading weights with a mismatched block count")
	}
}
