package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agrolink/chatsync/internal/bus"
	"github.com/agrolink/chatsync/internal/store"
)

// Workers runs the periodic store maintenance: failing pending
// messages whose ack window elapsed and dropping stale typing entries.
type Workers struct {
	store    *store.Store
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWorkers creates the maintenance workers. interval controls the
// sweep frequency; zero picks one second.
func NewWorkers(st *store.Store, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Workers {
	if interval == 0 {
		interval = time.Second
	}
	return &Workers{
		store:    st,
		bus:      b,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the sweep loop.
func (w *Workers) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop stops the sweep loop and waits for it to exit.
func (w *Workers) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *Workers) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (w *Workers) sweep(now time.Time) {
	changed := false

	for _, token := range w.store.ExpirePending(now) {
		w.logger.Warn("message ack window elapsed, marking failed",
			zap.String("token", token))
		w.bus.Publish(bus.Event{Kind: bus.MessageFailed, Timestamp: now, Payload: token})
		changed = true
	}

	if w.store.ExpireTyping(now) {
		changed = true
	}

	if changed {
		w.bus.Publish(bus.Event{Kind: bus.StoreUpdated, Timestamp: now})
	}
}
