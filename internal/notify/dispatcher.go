package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"domainwatch/internal/settings"
)

// ErrDispatcherClosed is returned by Dispatch after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Channel is one notification transport.
type Channel interface {
	Name() string
	// Enabled reports whether the channel wants eventType under cfg.
	Enabled(cfg settings.Settings, eventType string) bool
	// Notify delivers ev. ctx is cancelled when the dispatcher shuts down.
	Notify(ctx context.Context, cfg settings.Settings, ev Event) error
}

// Dispatcher fans events out to channels in the background.
type Dispatcher struct {
	settings settings.Provider
	channels []Channel
	log      *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a Dispatcher over channels.
func NewDispatcher(provider settings.Provider, log *zap.Logger, channels ...Channel) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		settings: provider,
		channels: channels,
		log:      log,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch re-reads the settings and starts one delivery per eligible channel
// without waiting for them. It fails only when nothing could be started:
// settings are unreadable or the dispatcher is shut down. Having no eligible
// channel is not a failure.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, data map[string]any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	cfg, err := d.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", eventType, err)
	}

	ev := NewEvent(eventType, data, d.now())
	started := 0
	for _, ch := range d.channels {
		if !ch.Enabled(cfg, eventType) {
			continue
		}
		started++
		d.wg.Add(1)
		go d.deliver(ch, cfg, ev)
	}
	d.log.Debug("event dispatched", zap.String("event", eventType), zap.Int("channels", started))
	return nil
}

func (d *Dispatcher) deliver(ch Channel, cfg settings.Settings, ev Event) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notification channel panicked", zap.String("channel", ch.Name()), zap.Any("panic", r))
		}
	}()
	if err := ch.Notify(d.ctx, cfg, ev); err != nil {
		d.log.Warn("notification failed",
			zap.String("channel", ch.Name()),
			zap.String("event", ev.Type),
			zap.Error(err))
	}
}

// Wait blocks until every delivery started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting events, cancels pending retry waits and waits for
// running deliveries until ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

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
