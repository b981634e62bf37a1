package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-avatar/core/events"
)

// eventEmitter delivers events to a single observer on its own goroutine, in
// emission order. Emitting never blocks on the observer.
type eventEmitter struct {
	mu       sync.Mutex
	observer func(events.Event)
	queue    []events.Event

	signal  chan struct{}
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once
}

func newEventEmitter(observer func(events.Event)) *eventEmitter {
	if observer == nil {
		observer = func(events.Event) {}
	}
	return &eventEmitter{
		observer: observer,
		signal:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (e *eventEmitter) start() {
	e.startOnce.Do(func() {
		go func() {
			defer close(e.done)

			for {
				select {
				case <-e.signal:
					e.deliverQueued()
				case <-e.closeCh:
					e.deliverQueued()
					return
				}
			}
		}()
	})
}

func (e *eventEmitter) emit(event events.Event) bool {
	if e.isClosed() {
		return false
	}

	e.mu.Lock()
	e.queue = append(e.queue, event)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return true
}

func (e *eventEmitter) deliverQueued() {
	for {
		e.mu.Lock()
		queued := e.queue
		e.queue = nil
		e.mu.Unlock()

		if len(queued) == 0 {
			return
		}
		for _, event := range queued {
			e.observer(event)
		}
	}
}

// end stops accepting events and waits until everything queued so far was
// delivered.
func (e *eventEmitter) end() {
	e.endOnce.Do(func() { close(e.closeCh) })
	e.start()
	<-e.done
}

func (e *eventEmitter) isClosed() bool {
	select {
	case <-e.closeCh:
		return true
	default:
		return false
	}
}
