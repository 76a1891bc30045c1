package infer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Weight file format constants: a fixed binary header sized for this
// package's conv+SE tower, the same shape-validated-header idea the
// teacher's NNUE loader used for its HalfKP network.
const (
	WeightsMagic   = 0x305A4E43 // "CNZ0" - conv-net, zero-style
	WeightsVersion = 1
)

// WeightsHeader is the header of the weight file: enough to validate that a
// file matches the network shape it's being loaded into before any layer
// tries to read past its slice bounds.
type WeightsHeader struct {
	Magic      uint32
	Version    uint32
	Blocks     uint32
	Channels   uint32
	SEChannels uint32
}

// LoadWeights loads a CPUBackend's parameters from a binary file, in the
// exact layer order Forward reads them in: input convolution, then each
// residual block's two convolutions and squeeze-excitation pair, then the
// policy/value/moves-left heads.
func (b *CPUBackend) LoadWeights(filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("infer: failed to open weights file: %w", err)
	}
	defer f.Close()
	return b.LoadWeightsFromReader(f)
}

// LoadWeightsFromReader loads weights from an already-open reader, for
// embedding the network file or loading from an in-memory buffer.
func (b *CPUBackend) LoadWeightsFromReader(r io.Reader) error {
	header, err := readWeightsHeader(r)
	if err != nil {
		return err
	}
	if err := b.checkHeaderShape(header); err != nil {
		return err
	}
	return b.loadBody(r)
}

// LoadCPUBackend constructs a CPUBackend matching a weights file's declared
// tower depth, width and SE bottleneck, then loads its parameters - for a
// caller (the UCI entrypoint) that doesn't know the network's shape ahead of
// time and must take it from the file itself, the way NewEngine's NNUE
// loading infers its architecture from the file it's pointed at.
func LoadCPUBackend(filename string) (*CPUBackend, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("infer: failed to open weights file: %w", err)
	}
	defer f.Close()

	header, err := readWeightsHeader(f)
	if err != nil {
		return nil, err
	}
	if header.Magic != WeightsMagic {
		return nil, fmt.Errorf("infer: invalid weights magic: expected %x, got %x", WeightsMagic, header.Magic)
	}
	if header.Version != WeightsVersion {
		return nil, fmt.Errorf("infer: unsupported weights version: expected %d, got %d", WeightsVersion, header.Version)
	}

	b := NewCPUBackend(int(header.Blocks), int(header.Channels), int(header.SEChannels))
	if err := b.loadBody(f); err != nil {
		return nil, err
	}
	return b, nil
}

func readWeightsHeader(r io.Reader) (WeightsHeader, error) {
	var header WeightsHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("infer: failed to read weights header: %w", err)
	}
	return header, nil
}

// checkHeaderShape validates header against b's already-allocated shape, for
// LoadWeightsFromReader's reload-into-an-existing-backend path.
func (b *CPUBackend) checkHeaderShape(header WeightsHeader) error {
	if header.Magic != WeightsMagic {
		return fmt.Errorf("infer: invalid weights magic: expected %x, got %x", WeightsMagic, header.Magic)
	}
	if header.Version != WeightsVersion {
		return fmt.Errorf("infer: unsupported weights version: expected %d, got %d", WeightsVersion, header.Version)
	}
	if int(header.Blocks) != len(b.blocks) {
		return fmt.Errorf("infer: block count mismatch: expected %d, got %d", len(b.blocks), header.Blocks)
	}
	if int(header.Channels) != b.channels {
		return fmt.Errorf("infer: channel count mismatch: expected %d, got %d", b.channels, header.Channels)
	}
	if len(b.blocks) > 0 && int(header.SEChannels) != b.blocks[0].SEChannels {
		return fmt.Errorf("infer: SE channel count mismatch: expected %d, got %d", b.blocks[0].SEChannels, header.SEChannels)
	}
	return nil
}

// loadBody reads every layer's weights and biases from r, in Forward's
// read order, into b's already-allocated layers.
func (b *CPUBackend) loadBody(r io.Reader) error {
	if err := readConv(r, b.inputConv); err != nil {
		return fmt.Errorf("infer: input convolution: %w", err)
	}
	for i, blk := range b.blocks {
		if err := readSEResBlock(r, blk); err != nil {
			return fmt.Errorf("infer: residual block %d: %w", i, err)
		}
	}
	if err := readConv(r, b.policyConv); err != nil {
		return fmt.Errorf("infer: policy head: %w", err)
	}
	if err := readConv(r, b.valueConv); err != nil {
		return fmt.Errorf("infer: value head conv: %w", err)
	}
	if err := readDense(r, b.valueFC1); err != nil {
		return fmt.Errorf("infer: value head fc1: %w", err)
	}
	if err := readDense(r, b.valueFC2); err != nil {
		return fmt.Errorf("infer: value head fc2: %w", err)
	}
	if err := readConv(r, b.movesConv); err != nil {
		return fmt.Errorf("infer: moves-left head conv: %w", err)
	}
	if err := readDense(r, b.movesFC1); err != nil {
		return fmt.Errorf("infer: moves-left head fc1: %w", err)
	}
	if err := readDense(r, b.movesFC2); err != nil {
		return fmt.Errorf("infer: moves-left head fc2: %w", err)
	}
	return nil
}

func readSEResBlock(r io.Reader, blk *SEResBlock) error {
	if err := readConv(r, blk.Conv1); err != nil {
		return fmt.Errorf("conv1: %w", err)
	}
	if err := readConv(r, blk.Conv2); err != nil {
		return fmt.Errorf("conv2: %w", err)
	}
	if err := readDense(r, blk.SEFC1); err != nil {
		return fmt.Errorf("se fc1: %w", err)
	}
	if err := readDense(r, blk.SEFC2); err != nil {
		return fmt.Errorf("se fc2: %w", err)
	}
	return nil
}

func readConv(r io.Reader, c *Conv2D) error {
	if err := binary.Read(r, binary.LittleEndian, c.Weights); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, c.Biases); err != nil {
		return fmt.Errorf("biases: %w", err)
	}
	return nil
}

func readDense(r io.Reader, d *Dense) error {
	if err := binary.Read(r, binary.LittleEndian, d.Weights); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, d.Biases); err != nil {
		return fmt.Errorf("biases: %w", err)
	}
	return nil
}

// SaveWeights writes a CPUBackend's parameters in the format LoadWeights
// reads, used by training/export tooling and by tests that round-trip a
// small random network.
func (b *CPUBackend) SaveWeights(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("infer: failed to create weights file: %w", err)
	}
	defer f.Close()

	header := WeightsHeader{
		Magic:      WeightsMagic,
		Version:    WeightsVersion,
		Blocks:     uint32(len(b.blocks)),
		Channels:   uint32(b.channels),
		SEChannels: uint32(b.blocks[0].SEChannels),
	}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("infer: failed to write weights header: %w", err)
	}

	if err := writeConv(f, b.inputConv); err != nil {
		return err
	}
	for _, blk := range b.blocks {
		if err := writeConv(f, blk.Conv1); err != nil {
			return err
		}
		if err := writeConv(f, blk.Conv2); err != nil {
			return err
		}
		if err := writeDense(f, blk.SEFC1); err != nil {
			return err
		}
		if err := writeDense(f, blk.SEFC2); err != nil {
			return err
		}
	}
	if err := writeConv(f, b.policyConv); err != nil {
		return err
	}
	if err := writeConv(f, b.valueConv); err != nil {
		return err
	}
	if err := writeDense(f, b.valueFC1); err != nil {
		return err
	}
	if err := writeDense(f, b.valueFC2); err != nil {
		return err
	}
	if err := writeConv(f, b.movesConv); err != nil {
		return err
	}
	if err := writeDense(f, b.movesFC1); err != nil {
		return err
	}
	return writeDense(f, b.movesFC2)
}

func writeConv(w io.Writer, c *Conv2D) error {
	if err := binary.Write(w, binary.LittleEndian, c.Weights); err != nil {
		return fmt.Errorf("infer: failed to write conv weights: %w", err)
	}
	return binary.Write(w, binary.LittleEndian, c.Biases)
}

func writeDense(w io.Writer, d *Dense) error {
	if err := binary.Write(w, binary.LittleEndian, d.Weights); err != nil {
		return fmt.Errorf("infer: failed to write dense weights: %w", err)
	}
	return binary.Write(w, binary.LittleEndian, d.Biases)
}
