package infer

import "math"

// The layers below are float32 equivalents of sfnnue's quantized int8/int32
// dense layers (sfnnue/layers/affine_transform.go, clipped_relu.go): a
// fixed-shape weight/bias pair plus a Propagate method that writes into a
// caller-supplied output buffer, avoiding per-call allocation in the search
// hot path. The conv+SE-net architecture here runs in full float32 rather
// than sfnnue's quantized pipeline, since the network this backend serves is
// small enough to not need NNUE-style quantization, but the layer shape and
// the read-weights-then-propagate split are the same idiom.

// Conv2D is a same-padding, stride-1 2D convolution over a square board of
// side Size, the form every layer of the residual tower uses.
type Conv2D struct {
	InChannels, OutChannels, KernelSize, Size int
	Weights                                   []float32 // [out][in][k][k]
	Biases                                    []float32 // [out]
}

// NewConv2D allocates a convolution layer's parameter slices at the given
// shape; weights are filled later by LoadWeights.
func NewConv2D(inCh, outCh, kernel, size int) *Conv2D {
	return &Conv2D{
		InChannels:  inCh,
		OutChannels: outCh,
		KernelSize:  kernel,
		Size:        size,
		Weights:     make([]float32, outCh*inCh*kernel*kernel),
		Biases:      make([]float32, outCh),
	}
}

// Propagate writes the convolution of input ([InChannels*Size*Size]) into
// output ([OutChannels*Size*Size]), zero-padded at the board edges.
func (c *Conv2D) Propagate(input, output []float32) {
	pad := c.KernelSize / 2
	for oc := 0; oc < c.OutChannels; oc++ {
		bias := c.Biases[oc]
		for y := 0; y < c.Size; y++ {
			for x := 0; x < c.Size; x++ {
				sum := bias
				for ic := 0; ic < c.InChannels; ic++ {
					inBase := ic * c.Size * c.Size
					wBase := (oc*c.InChannels + ic) * c.KernelSize * c.KernelSize
					for ky := 0; ky < c.KernelSize; ky++ {
						sy := y + ky - pad
						if sy < 0 || sy >= c.Size {
							continue
						}
						for kx := 0; kx < c.KernelSize; kx++ {
							sx := x + kx - pad
							if sx < 0 || sx >= c.Size {
								continue
							}
							sum += input[inBase+sy*c.Size+sx] * c.Weights[wBase+ky*c.KernelSize+kx]
						}
					}
				}
				output[oc*c.Size*c.Size+y*c.Size+x] = sum
			}
		}
	}
}

// NumWeights and NumBiases report the parameter slice lengths, for the
// weight-file reader/writer.
func (c *Conv2D) NumWeights() int { return len(c.Weights) }
func (c *Conv2D) NumBiases() int  { return len(c.Biases) }

// Dense is a fully-connected layer: output = W*input + b.
type Dense struct {
	InDim, OutDim int
	Weights       []float32 // [out][in]
	Biases        []float32 // [out]
}

// NewDense allocates a dense layer's parameter slices; weights are filled
// later by LoadWeights.
func NewDense(inDim, outDim int) *Dense {
	return &Dense{
		InDim:   inDim,
		OutDim:  outDim,
		Weights: make([]float32, outDim*inDim),
		Biases:  make([]float32, outDim),
	}
}

// Propagate writes W*input+b into output, unrolled by 4 the way
// sfnnue/layers.AffineTransform.Propagate unrolls its quantized dot product.
func (d *Dense) Propagate(input, output []float32) {
	for o := 0; o < d.OutDim; o++ {
		row := d.Weights[o*d.InDim : (o+1)*d.InDim]
		sum := d.Biases[o]
		i := 0
		for ; i+4 <= d.InDim; i += 4 {
			sum += row[i]*input[i] + row[i+1]*input[i+1] + row[i+2]*input[i+2] + row[i+3]*input[i+3]
		}
		for ; i < d.InDim; i++ {
			sum += row[i] * input[i]
		}
		output[o] = sum
	}
}

func (d *Dense) NumWeights() int { return len(d.Weights) }
func (d *Dense) NumBiases() int  { return len(d.Biases) }

// ReLU clamps every element of x to [0, +inf), in place. Named after and
// playing the same pipeline role as sfnnue/layers.ClippedReLU, but unclamped
// above zero since this network's activations are float32, not quantized
// int8.
func ReLU(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// Sigmoid applies the logistic function elementwise, in place, used by the
// SE block's excitation gate.
func Sigmoid(x []float32) {
	for i, v := range x {
		x[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
}
