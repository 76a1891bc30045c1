package mcts

import (
	"runtime"
	"sync/atomic"
)

// WorkerToken identifies a calling worker for the reentrant node lock. A
// worker allocates exactly one token and reuses its address for the
// lifetime of its goroutine; the pointer's identity substitutes for the
// small integer thread id the original engine keyed its spinlock on, which
// Go's goroutine model has no equivalent of.
type WorkerToken struct{ _ byte }

// NewWorkerToken allocates a fresh token for one worker goroutine.
func NewWorkerToken() *WorkerToken { return &WorkerToken{} }

// lock is a reentrant mutex keyed by *WorkerToken identity. The same worker
// may lock a node multiple times across nested calls (selection walking
// into expansion, solver propagation re-entering an ancestor already held
// during backup); only the outermost Unlock releases it.
type lock struct {
	owner atomic.Pointer[WorkerToken]
	count int
}

func (l *lock) Lock(tok *WorkerToken) {
	if l.owner.Load() == tok {
		l.count++
		return
	}
	for !l.owner.CompareAndSwap(nil, tok) {
		runtime.Gosched()
	}
	l.count = 1
}

func (l *lock) Unlock() {
	l.count--
	if l.count == 0 {
		l.owner.Store(nil)
	}
}
