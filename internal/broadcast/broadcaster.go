package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Transport delivers one event to its subscribers.
type Transport interface {
	Publish(ctx context.Context, ev Event) error
}

// publishTimeout bounds a single transport call.
const publishTimeout = 5 * time.Second

// Broadcaster queues events per lobby code and drains each queue on its own goroutine, so
// events for one lobby arrive in the order they were emitted while Emit never blocks.
type Broadcaster struct {
	transport Transport
	logger    *logrus.Logger

	mu     sync.Mutex
	queues map[string][]Event // present while a drain goroutine runs for the code
	closed bool
	wg     sync.WaitGroup
}

func NewBroadcaster(transport Transport, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		transport: transport,
		logger:    logger,
		queues:    make(map[string][]Event),
	}
}

// Emit enqueues ev. Events emitted after Close are dropped.
func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.WithFields(logrus.Fields{"event": ev.Kind, "lobby": ev.LobbyCode}).Warn("broadcaster closed, dropping event")
		return
	}
	pending, running := b.queues[ev.LobbyCode]
	b.queues[ev.LobbyCode] = append(pending, ev)
	if !running {
		b.wg.Add(1)
		go b.drain(ev.LobbyCode)
	}
}

func (b *Broadcaster) drain(code string) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		q := b.queues[code]
		if len(q) == 0 {
			delete(b.queues, code)
			b.mu.Unlock()
			return
		}
		ev := q[0]
		b.queues[code] = q[1:]
		b.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := b.transport.Publish(ctx, ev); err != nil {
			b.logger.WithFields(logrus.Fields{
				"event":   ev.Kind,
				"channel": ev.Channel,
				"lobby":   code,
				"error":   err,
			}).Error("failed to publish event")
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("broadcaster: pending events not drained"), ctx.Err())
	}
}
