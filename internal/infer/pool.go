package infer

import (
	"errors"

	"github.com/hailam/chessplay/internal/encoder"
)

// BackendPool dispatches forward passes across one or more registered
// backends, picking whichever is least busy at enqueue time. Grounded on
// network_manager.h's get_backend(), which scans its attached backends and
// returns the one with the fewest n_user_threads, incrementing that counter
// before handing it back; here InFlight() already tracks that count per
// backend (CPUBackend.inFlight), so get_backend reduces to a min-scan with
// no separate counter for the pool to maintain.
type BackendPool struct {
	backends []Backend
}

// NewBackendPool constructs a pool over the given backends, in the order
// they should be preferred on an exact tie.
func NewBackendPool(backends ...Backend) *BackendPool {
	return &BackendPool{backends: backends}
}

// ErrNoBackends is returned by Forward when the pool has no registered
// backends.
var ErrNoBackends = errors.New("infer: backend pool has no registered backends")

// Select returns the least-loaded backend, matching get_backend()'s
// selection policy. Ties favor the earliest-registered backend.
func (p *BackendPool) Select() (Backend, error) {
	if len(p.backends) == 0 {
		return nil, ErrNoBackends
	}
	best := p.backends[0]
	for _, b := range p.backends[1:] {
		if b.InFlight() < best.InFlight() {
			best = b
		}
	}
	return best, nil
}

// Forward runs batch through the least-loaded backend in the pool.
func (p *BackendPool) Forward(batch []encoder.InputPlanes) ([]Output, error) {
	b, err := p.Select()
	if err != nil {
		return nil, err
	}
	return b.Forward(batch)
}

// Backends returns the pool's registered backends, for diagnostics logging
// of which devices are attached (network_manager.h's
// print_pipeline_information does the equivalent for its pipeline).
func (p *BackendPool) Backends() []Backend { return p.backends }
