package relay

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher runs relay cycles in the background so ingress can acknowledge
// immediately. Cycles are detached from the request; the service applies
// the cycle deadline once the session is free.
type Dispatcher struct {
	svc    *Service
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewDispatcher(svc *Service, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		svc:    svc,
		logger: logger.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Submit(raw []byte) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("relay cycle panicked", "panic", r)
			}
		}()

		rep := d.svc.HandleEvent(context.Background(), raw)
		d.logger.Debug("relay cycle finished", "state", rep.State, "session_id", rep.SessionID)
	}()
}

// Wait blocks until in-flight cycles finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
