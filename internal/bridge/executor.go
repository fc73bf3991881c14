package bridge

import (
	"context"

	"go.uber.org/atomic"

	"moff.io/wallet-bridge/pkg/log"
)

// executor runs posted functions one at a time, in post order, on one goroutine.
type executor struct {
	name     string
	pipeline chan func()
	done     chan struct{}
	running  atomic.Bool
}

func newExecutor(name string, size int) *executor {
	if size <= 0 {
		size = 1
	}
	return &executor{
		name:     name,
		pipeline: make(chan func(), size),
		done:     make(chan struct{}),
	}
}

// Post enqueues fn. It returns false once the executor has stopped.
func (e *executor) Post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.pipeline <- fn:
		return true
	case <-e.done:
		return false
	}
}

// Run drains the pipeline until ctx is done. Only the first call runs.
func (e *executor) Run(ctx context.Context) {
	if !e.running.CAS(false, true) {
		return
	}
	log.Debugf("%s executor running...", e.name)
	defer log.Debugf("%s executor stopped...", e.name)
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.pipeline:
			e.invoke(fn)
		}
	}
}

func (e *executor) invoke(fn func()) {
	defer func() {
		if i := recover(); i != nil {
			log.Errorf("%s executor recovered: %v", e.name, i)
		}
	}()
	fn()
}
