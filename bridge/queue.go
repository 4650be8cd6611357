package bridge

import (
	"context"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// dispatchQueue sits between the relay and the dispatch thread in
// DeliveryQueued mode. When full, the oldest chunk is overwritten.
type dispatchQueue struct {
	ring   mpmc.RichOverlappedRingBuffer[*SerialData]
	notify chan struct{}
	done   chan struct{}
}

func newDispatchQueue(size uint32) *dispatchQueue {
	return &dispatchQueue{
		ring:   mpmc.NewOverlappedRingBuffer[*SerialData](size),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// push enqueues data and wakes the dispatcher.
func (q *dispatchQueue) push(data *SerialData) (uint32, error) {
	overwrites, err := q.ring.EnqueueM(data)
	if err != nil {
		return 0, err
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return overwrites, nil
}

func (q *dispatchQueue) close() {
	close(q.done)
}

// dispatchLoop drains the queue in arrival order until Stop. Chunks still
// queued at Stop are discarded.
func (b *Bridge) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()

	logger := b.threadLogger(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Dispatch loop panicked")
		}
	}()
	logger.Debug("Dispatch loop started")

	for {
		select {
		case <-b.queue.done:
			if !b.queue.ring.IsEmpty() {
				logger.Debug("Discarding queued chunks on stop")
			}
			return
		case <-b.queue.notify:
			for !b.queue.ring.IsEmpty() {
				select {
				case <-b.queue.done:
					return
				default:
				}
				data, err := b.queue.ring.Dequeue()
				if err != nil {
					break
				}
				b.deliver(logger, data)
			}
		}
	}
}
