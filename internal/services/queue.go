package services

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// TaskQueue runs submitted tasks with bounded concurrency. The inbound
// event queue and the analysis queue are both TaskQueues, so a burst of
// photos cannot starve command handling and vision calls stay throttled
// process-wide no matter how many sessions fire at once.
type TaskQueue struct {
	name string
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

// NewTaskQueue creates a queue running at most concurrency tasks at once
func NewTaskQueue(name string, concurrency int64) *TaskQueue {
	return &TaskQueue{
		name: name,
		sem:  semaphore.NewWeighted(concurrency),
	}
}

// Submit schedules a task; it runs as soon as a slot frees up
func (q *TaskQueue) Submit(task func()) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.sem.Acquire(context.Background(), 1); err != nil {
			log.Printf("❌ %s queue: failed to acquire slot: %v", q.name, err)
			return
		}
		defer q.sem.Release(1)
		task()
	}()
}

// Wait blocks until every submitted task has finished
func (q *TaskQueue) Wait() {
	q.wg.Wait()
}

type outboundMessage struct {
	groupID string
	text    string
	opts    *SendOptions
}

// OutboundQueue serializes replies toward the messaging gateway:
// concurrency 1, paced by a minimum interval with a burst allowance,
// plus a short human-like delay before each send.
type OutboundQueue struct {
	messenger Messenger
	interval  time.Duration
	burst     int
	delay     time.Duration

	ch   chan outboundMessage
	done chan struct{}
	wg   sync.WaitGroup
}

// NewOutboundQueue creates the outbound queue. interval is the pacing
// floor between sends once the burst allowance is used up; delay is the
// human-like pause inserted before every send.
func NewOutboundQueue(messenger Messenger, interval time.Duration, burst int, delay time.Duration) *OutboundQueue {
	if burst < 1 {
		burst = 1
	}
	return &OutboundQueue{
		messenger: messenger,
		interval:  interval,
		burst:     burst,
		delay:     delay,
		ch:        make(chan outboundMessage, 64),
		done:      make(chan struct{}),
	}
}

// Start launches the single worker goroutine
func (q *OutboundQueue) Start() {
	q.wg.Add(1)
	go q.run()
}

// Stop drains nothing and stops the worker
func (q *OutboundQueue) Stop() {
	close(q.done)
	q.wg.Wait()
}

// Enqueue queues one reply; drops with a log line if the queue is full
// rather than blocking event handling
func (q *OutboundQueue) Enqueue(groupID, text string, opts *SendOptions) {
	select {
	case q.ch <- outboundMessage{groupID: groupID, text: text, opts: opts}:
	default:
		log.Printf("⚠️  Outbound queue full - dropping reply to %s", groupID)
	}
}

func (q *OutboundQueue) run() {
	defer q.wg.Done()

	tokens := q.burst
	lastRefill := time.Now()

	for {
		select {
		case <-q.done:
			return
		case msg := <-q.ch:
			// Refill the burst allowance for every full interval elapsed
			if q.interval > 0 {
				elapsed := time.Since(lastRefill)
				refill := int(elapsed / q.interval)
				if refill > 0 {
					tokens += refill
					if tokens > q.burst {
						tokens = q.burst
					}
					lastRefill = lastRefill.Add(time.Duration(refill) * q.interval)
				}
				if tokens <= 0 {
					wait := q.interval - time.Since(lastRefill)
					if wait > 0 {
						select {
						case <-q.done:
							return
						case <-time.After(wait):
						}
					}
					tokens++
					lastRefill = time.Now()
				}
			}
			if tokens > 0 {
				tokens--
			}

			if q.delay > 0 {
				select {
				case <-q.done:
					return
				case <-time.After(q.delay):
				}
			}

			if err := q.messenger.Send(msg.groupID, msg.text, msg.opts); err != nil {
				log.Printf("❌ Failed to send reply to %s: %v", msg.groupID, err)
			}
		}
	}
}
