package memory

import (
	"fmt"
	"sync"
)

// Pool is a typed object pool. Objects handed back through Put or PutAny
// are reset before reuse.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)
}

// NewPool builds a pool. reset may be nil.
func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p:     &sync.Pool{New: func() any { return ctor() }},
		reset: reset,
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// PutAny lets a Pool serve as a retirement destructor.
func (p *Pool[T]) PutAny(v any) {
	obj, ok := v.(*T)
	if !ok {
		panic(fmt.Sprintf("memory.Pool: PutAny received %T", v))
	}
	p.Put(obj)
}
