package nn

import (
	"sync"

	"go.uber.org/atomic"
	"gonum.org/v1/gonum/mat"
)

const maxPooledPerShape = 8

// TensorPool hands out zeroed matrices and tracks how many are checked out.
// Callers release what they acquire on every exit path; Live returning to
// zero after a train or render cycle is the leak check.
type TensorPool struct {
	mu   sync.Mutex
	free map[[2]int][]*mat.Dense
	live atomic.Int64
}

func NewTensorPool() *TensorPool {
	return &TensorPool{free: make(map[[2]int][]*mat.Dense)}
}

func (p *TensorPool) Acquire(rows, cols int) *mat.Dense {
	p.live.Inc()

	key := [2]int{rows, cols}
	p.mu.Lock()
	list := p.free[key]
	if n := len(list); n > 0 {
		m := list[n-1]
		p.free[key] = list[:n-1]
		p.mu.Unlock()
		m.Zero()
		return m
	}
	p.mu.Unlock()
	return mat.NewDense(rows, cols, nil)
}

// Release returns matrices to the pool. Nil entries are ignored so a
// deferred release can cover tensors that were never acquired.
func (p *TensorPool) Release(tensors ...*mat.Dense) {
	for _, m := range tensors {
		if m == nil {
			continue
		}
		p.live.Dec()
		rows, cols := m.Dims()
		key := [2]int{rows, cols}
		p.mu.Lock()
		if len(p.free[key]) < maxPooledPerShape {
			p.free[key] = append(p.free[key], m)
		}
		p.mu.Unlock()
	}
}

func (p *TensorPool) Live() int {
	return int(p.live.Load())
}
