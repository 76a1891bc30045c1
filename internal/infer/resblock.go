package infer

// SEResBlock is one squeeze-and-excitation residual block of the tower
// described by lc0_network.h's SELayerImpl/ResLayerImpl: two same-channel
// convolutions with a ReLU between them, a squeeze-excitation gate computed
// from the global average of the second convolution's output and applied as
// a per-channel scale+shift, then a residual add and a final ReLU.
type SEResBlock struct {
	Channels, SEChannels, Size int

	Conv1 *Conv2D
	Conv2 *Conv2D

	// Squeeze-excitation: global-average-pooled channel vector -> FC ->
	// ReLU -> FC -> per-channel (scale, shift) pair, channels-last as
	// [2*Channels] (first half scale, second half shift) matching
	// lc0_network.h's SELayerImpl output split.
	SEFC1 *Dense
	SEFC2 *Dense

	pooled   []float32
	hidden   []float32
	gate     []float32
	conv1Out []float32
	conv2Out []float32
}

// NewSEResBlock allocates a block's layers and scratch buffers at the given
// shape; weights are filled later by LoadWeights.
func NewSEResBlock(channels, seChannels, size int) *SEResBlock {
	return &SEResBlock{
		Channels:   channels,
		SEChannels: seChannels,
		Size:       size,
		Conv1:      NewConv2D(channels, channels, 3, size),
		Conv2:      NewConv2D(channels, channels, 3, size),
		SEFC1:      NewDense(channels, seChannels),
		SEFC2:      NewDense(seChannels, 2*channels),
		pooled:     make([]float32, channels),
		hidden:     make([]float32, seChannels),
		gate:       make([]float32, 2*channels),
		conv1Out:   make([]float32, channels*size*size),
		conv2Out:   make([]float32, channels*size*size),
	}
}

// Propagate runs the block in place: x ([Channels*Size*Size]) is both input
// and output, matching the residual tower's streaming shape.
func (b *SEResBlock) Propagate(x []float32) {
	plane := b.Size * b.Size

	b.Conv1.Propagate(x, b.conv1Out)
	ReLU(b.conv1Out)
	b.Conv2.Propagate(b.conv1Out, b.conv2Out)

	for c := 0; c < b.Channels; c++ {
		var sum float32
		base := c * plane
		for _, v := range b.conv2Out[base : base+plane] {
			sum += v
		}
		b.pooled[c] = sum / float32(plane)
	}

	b.SEFC1.Propagate(b.pooled, b.hidden)
	ReLU(b.hidden)
	b.SEFC2.Propagate(b.hidden, b.gate)
	Sigmoid(b.gate[:b.Channels])

	for c := 0; c < b.Channels; c++ {
		scale := b.gate[c]
		shift := b.gate[b.Channels+c]
		base := c * plane
		for i := 0; i < plane; i++ {
			x[base+i] += b.conv2Out[base+i]*scale + shift
		}
	}
	ReLU(x)
}
