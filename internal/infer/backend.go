package infer

import "github.com/hailam/chessplay/internal/encoder"

// Output is one sample's raw network output: a loss/draw/win distribution
// (WDL[0] loss, WDL[2] win, summing to 1), the full policy logits (PolicySize wide, ungathered), and
// the predicted moves remaining in the game.
type Output struct {
	WDL       [3]float32
	Policy    []float32
	MovesLeft float32
}

// Device names the hardware a Backend runs on, reported so the orchestrator
// can log which backends are in play - the original engine's autodetection
// (network_manager.h's add_backend/autodetect_backends) logs the same thing
// for each backend it attaches.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceROCm Device = "rocm"
)

// Dtype names the numeric type a Backend's forward pass expects its weights
// and activations in, so a mixed backend pool can log a useful label even
// though every Backend in this package currently runs float32.
type Dtype string

const (
	DtypeFloat32 Dtype = "float32"
	DtypeFloat16 Dtype = "float16"
)

// Backend runs the network's forward pass over a batch of encoded positions.
// Implementations may run on CPU, over an accelerator, or (in tests) return
// canned output; the evaluator above this package is agnostic to which.
// Device, ExpectedDtype and InFlight exist for BackendPool's least-loaded
// selection and logging, mirroring network_manager.h's per-backend
// n_user_threads counter and device/dtype bookkeeping.
type Backend interface {
	Forward(batch []encoder.InputPlanes) ([]Output, error)
	Device() Device
	ExpectedDtype() Dtype
	InFlight() int32
}
