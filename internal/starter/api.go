package starter

import (
	"context"

	"moff.io/wallet-bridge/pkg/log"
)

type Startable interface {
	Start(ctx context.Context)
}

type Stopable interface {
	Stop()
}

// StartFunc adapts a function to Startable.
type StartFunc func(ctx context.Context)

func (f StartFunc) Start(ctx context.Context) { f(ctx) }

// Start starts elems in order.
func Start(ctx context.Context, elems ...Startable) {
	for _, ele := range elems {
		ele.Start(ctx)
	}
}

// Stop stops the Stopable elems in reverse start order.
func Stop(elems ...interface{}) {
	for i := len(elems) - 1; i >= 0; i-- {
		if s, ok := elems[i].(Stopable); ok {
			s.Stop()
		}
	}
	log.Info("all components stopped")
}
