package infer

import (
	"math"
	"sync/atomic"

	"github.com/hailam/chessplay/internal/board"
	"github.com/hailam/chessplay/internal/encoder"
)

// boardSize is the side length of every plane this network operates on.
const boardSize = 8

// CPUBackend is a pure-Go forward pass over the conv+SE-residual-tower
// architecture lc0_network.h declares as torch::nn::Sequential modules
// (input_convolution, residual_tower, policy_head, value_head,
// moves_left_head): an input convolution, a stack of SEResBlocks, then three
// heads reading off the tower's final feature planes. It exists so the
// engine has a network to run without a torch/ONNX runtime dependency;
// GPU-backed implementations of Backend are expected to wrap an actual
// inference runtime instead.
type CPUBackend struct {
	inputConv *Conv2D
	blocks    []*SEResBlock
	channels  int

	policyConv *Conv2D // Channels -> PlanesPerSquare, 1x1
	valueConv  *Conv2D // Channels -> valueChannels, 1x1
	valueFC1   *Dense
	valueFC2   *Dense // -> 3 (WDL)

	movesConv *Conv2D // Channels -> movesChannels, 1x1
	movesFC1  *Dense
	movesFC2  *Dense // -> 1

	valueChannels, movesChannels, valueHidden, movesHidden int

	inFlight atomic.Int32
}

// NewCPUBackend allocates a network of the given tower depth and width.
// seChannels is the squeeze-excitation bottleneck width used by every block.
func NewCPUBackend(blocks, channels, seChannels int) *CPUBackend {
	const (
		valueChannels = 32
		movesChannels = 8
		valueHidden   = 128
		movesHidden   = 128
	)
	b := &CPUBackend{
		inputConv:     NewConv2D(encoder.NumPlanes, channels, 3, boardSize),
		channels:      channels,
		policyConv:    NewConv2D(channels, PlanesPerSquare, 1, boardSize),
		valueConv:     NewConv2D(channels, valueChannels, 1, boardSize),
		valueFC1:      NewDense(valueChannels*boardSize*boardSize, valueHidden),
		valueFC2:      NewDense(valueHidden, 3),
		movesConv:     NewConv2D(channels, movesChannels, 1, boardSize),
		movesFC1:      NewDense(movesChannels*boardSize*boardSize, movesHidden),
		movesFC2:      NewDense(movesHidden, 1),
		valueChannels: valueChannels,
		movesChannels: movesChannels,
		valueHidden:   valueHidden,
		movesHidden:   movesHidden,
	}
	for i := 0; i < blocks; i++ {
		b.blocks = append(b.blocks, NewSEResBlock(channels, seChannels, boardSize))
	}
	return b
}

// Forward implements Backend by running every sample in batch through the
// tower and heads independently; there is no cross-sample batching benefit
// on CPU the way there is on a GPU backend, so this simply loops.
func (b *CPUBackend) Forward(batch []encoder.InputPlanes) ([]Output, error) {
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	out := make([]Output, len(batch))
	plane := boardSize * boardSize

	input := make([]float32, encoder.NumPlanes*plane)
	x := make([]float32, b.channels*plane)

	for i := range batch {
		planesToTensor(&batch[i], input)

		b.inputConv.Propagate(input, x)
		ReLU(x)
		for _, blk := range b.blocks {
			blk.Propagate(x)
		}

		out[i] = Output{
			Policy:    b.runPolicyHead(x),
			WDL:       b.runValueHead(x),
			MovesLeft: b.runMovesHead(x),
		}
	}
	return out, nil
}

// Device reports DeviceCPU: this backend always runs on the calling
// goroutine's CPU.
func (b *CPUBackend) Device() Device { return DeviceCPU }

// ExpectedDtype reports DtypeFloat32, the only precision this backend runs.
func (b *CPUBackend) ExpectedDtype() Dtype { return DtypeFloat32 }

// InFlight reports the number of Forward calls currently running on this
// backend, for BackendPool's least-loaded selection.
func (b *CPUBackend) InFlight() int32 { return b.inFlight.Load() }

func (b *CPUBackend) runPolicyHead(x []float32) []float32 {
	policy := make([]float32, PolicySize)
	b.policyConv.Propagate(x, policy)
	return policy
}

func (b *CPUBackend) runValueHead(x []float32) [3]float32 {
	plane := boardSize * boardSize
	conv := make([]float32, b.valueChannels*plane)
	b.valueConv.Propagate(x, conv)
	ReLU(conv)

	hidden := make([]float32, b.valueHidden)
	b.valueFC1.Propagate(conv, hidden)
	ReLU(hidden)

	wdl := make([]float32, 3)
	b.valueFC2.Propagate(hidden, wdl)
	softmax(wdl)

	return [3]float32{wdl[0], wdl[1], wdl[2]}
}

func (b *CPUBackend) runMovesHead(x []float32) float32 {
	plane := boardSize * boardSize
	conv := make([]float32, b.movesChannels*plane)
	b.movesConv.Propagate(x, conv)
	ReLU(conv)

	hidden := make([]float32, b.movesHidden)
	b.movesFC1.Propagate(conv, hidden)
	ReLU(hidden)

	out := make([]float32, 1)
	b.movesFC2.Propagate(hidden, out)
	if out[0] < 0 {
		return 0
	}
	return out[0]
}

// softmax normalizes x in place, subtracting the max first for stability.
func softmax(x []float32) {
	max := x[0]
	for _, v := range x[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range x {
		e := float32(math.Exp(float64(v - max)))
		x[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range x {
		x[i] /= sum
	}
}

// planesToTensor flattens an encoder.InputPlanes into the channel-major
// float32 layout every Conv2D expects, mirroring lc0_network.h's
// input_planes_to_tensor helper.
func planesToTensor(planes *encoder.InputPlanes, out []float32) {
	plane := boardSize * boardSize
	for p := 0; p < encoder.NumPlanes; p++ {
		base := p * plane
		for sq := board.Square(0); sq < 64; sq++ {
			out[base+int(sq)] = planes.At(p, sq)
		}
	}
}
