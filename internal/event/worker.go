package event

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type worker struct {
	mu            sync.RWMutex
	subscriptions map[string][]func(event Queueable)
}

var (
	instance = &worker{
		subscriptions: map[string][]func(event Queueable){},
	}
	l = log.WithField("context", "event_worker")
)

// Subscribe registers a handler for one event type. Handlers run on the
// worker goroutine; slow work belongs in the handler's own goroutine.
func Subscribe(eventType string, fn func(event Queueable)) {
	instance.mu.Lock()
	defer instance.mu.Unlock()
	instance.subscriptions[eventType] = append(instance.subscriptions[eventType], fn)
}

func RunWorker() context.CancelFunc {
	ctx, cancelFunc := context.WithCancel(context.Background())
	instance.Run(ctx)
	return cancelFunc
}

func (w *worker) Run(ctx context.Context) {
	done := ctx.Done()
	toProfile := false
	profileTicker := time.NewTicker(time.Minute * 5)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-profileTicker.C:
				toProfile = true
			}
		}
	}()

	go func() {
		l.Trace("events runner go")
		var event Queueable
		for {
			select {
			case <-done:
				l.Info("shutting down event worker by cancelled context")
				return
			default:
				time.Sleep(1 * time.Millisecond)
				event = Bus.DQ()
				if event == nil {
					continue
				}

				if event.Expired() {
					continue
				}

				w.mu.RLock()
				subscribers, ok := w.subscriptions[event.Type()]
				w.mu.RUnlock()
				if !ok {
					Bus.NQ(event)
					continue
				}
				for _, sub := range subscribers {
					sub(event)
					if event.IsDropped() {
						break
					}
				}

				if event.IsDropped() {
					continue
				}
				if !event.IsProcessed() {
					Bus.NQ(event)
				}

				if qlen := Bus.Len(); toProfile && qlen > 0 {
					l.Debugf("unprocessed queue length: %d", qlen)
				}
			}
		}
	}()
}
