package ros

import (
	"sync"
	"time"
)

// spinnerHandler is invoked with a batch of queued messages for one client,
// in the order they were pinged.
type spinnerHandler func(batch []interface{})

// spinnerClientQueue is the per-client state the spinner's scheduling
// loop mutates: a ring-buffered deque, the throttle period gating how often
// handle fires, and the last time it fired.
type spinnerClientQueue struct {
	id         string
	queue      []interface{}
	queueSize  int
	throttle   time.Duration
	handleTime time.Time
	handle     spinnerHandler
}

func (q *spinnerClientQueue) push(msg interface{}) {
	if len(q.queue) >= q.queueSize {
		// Overflow drops the oldest message; ring semantics.
		q.queue = q.queue[1:]
	}
	q.queue = append(q.queue, msg)
}

// spinner is the cooperative single-threaded dispatcher shared by every
// subscription-like consumer in a node. It never calls user
// code from more than one goroutine at a time and never lets a slow or
// panicking callback stall ingestion of the next message on the wire: the
// wire-side goroutine only ever calls ping, which is non-blocking.
type spinner struct {
	logger    Logger
	mu        sync.Mutex
	clients   map[string]*spinnerClientQueue
	callQueue []string // ids with non-empty queues, in FIFO-ish order
	spinTime  time.Duration
	timer     *time.Timer
	firing    bool
	lockOps   []func()
}

// newSpinner builds a spinner. spinTime is the scheduling tick; a zero
// value defaults to 10ms, fast enough that throttle periods in the low
// tens of milliseconds are still honored within one tick of slack.
func newSpinner(spinTime time.Duration, logger Logger) *spinner {
	if spinTime <= 0 {
		spinTime = 10 * time.Millisecond
	}
	return &spinner{
		logger:   logger,
		clients:  make(map[string]*spinnerClientQueue),
		spinTime: spinTime,
	}
}

// addClient registers a client id with the spinner. Calling it again for
// an id that already exists replaces its handler and limits (used when a
// subscriber is re-created for a topic whose subscriber was shut down and
// re-subscribed under the same id).
func (s *spinner) addClient(id string, queueSize int, throttle time.Duration, handle spinnerHandler) {
	s.withLock(func() {
		s.clients[id] = &spinnerClientQueue{
			id:        id,
			queueSize: queueSize,
			throttle:  throttle,
			handle:    handle,
		}
	})
}

// disconnect removes a client. Any messages still queued for it are
// dropped with no callback.
func (s *spinner) disconnect(id string) {
	s.withLock(func() {
		delete(s.clients, id)
		s.removeFromCallQueue(id)
	})
}

// ping enqueues msg for delivery to client id and arms the dispatch timer
// if this is the first pending message in the spinner.
func (s *spinner) ping(id string, msg interface{}) {
	s.withLock(func() {
		c, ok := s.clients[id]
		if !ok {
			return
		}
		wasEmpty := len(c.queue) == 0
		c.push(msg)
		if wasEmpty {
			s.callQueue = append(s.callQueue, id)
		}
		s.arm()
	})
}

// withLock runs fn while holding the spinner's lock, unless the spinner is
// currently in its "locked region" (running fire()), in which case fn is
// cached and replayed, in order, immediately after that region ends. This
// is what lets ping/addClient/disconnect be called safely from within a
// client's own handle callback without deadlocking or reordering relative
// to other operations.
func (s *spinner) withLock(fn func()) {
	s.mu.Lock()
	if s.firing {
		s.lockOps = append(s.lockOps, fn)
		s.mu.Unlock()
		return
	}
	fn()
	s.mu.Unlock()
}

// arm must be called with s.mu held.
func (s *spinner) arm() {
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.spinTime, s.fire)
}

// fire is the scheduling tick: for every id with pending work whose
// throttle has elapsed, pop its whole batch and hand it to its handler.
// IDs whose throttle hasn't elapsed yet stay in the call queue for the
// next tick.
func (s *spinner) fire() {
	s.mu.Lock()
	s.timer = nil
	s.firing = true
	now := time.Now()

	var stillPending []string
	var toRun []*spinnerClientQueue
	for _, id := range s.callQueue {
		c, ok := s.clients[id]
		if !ok {
			continue
		}
		if now.Sub(c.handleTime) >= c.throttle {
			toRun = append(toRun, c)
		} else {
			stillPending = append(stillPending, id)
		}
	}
	s.callQueue = stillPending
	s.mu.Unlock()

	for _, c := range toRun {
		s.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.handleTime = now
		s.mu.Unlock()

		func() {
			defer func() {
				// A panicking handler must not take down the dispatcher;
				// the failure is logged and only this batch is lost.
				if r := recover(); r != nil {
					s.logger.Errorf("spinner handler for %s panicked: %v", c.id, r)
				}
			}()
			c.handle(batch)
		}()
	}

	s.mu.Lock()
	s.firing = false
	ops := s.lockOps
	s.lockOps = nil
	s.mu.Unlock()

	for _, op := range ops {
		s.withLock(op)
	}

	s.mu.Lock()
	if len(s.callQueue) > 0 {
		s.arm()
	}
	s.mu.Unlock()
}

// removeFromCallQueue must be called with s.mu held.
func (s *spinner) removeFromCallQueue(id string) {
	for i, existing := range s.callQueue {
		if existing == id {
			s.callQueue = append(s.callQueue[:i], s.callQueue[i+1:]...)
			return
		}
	}
}

// subscriberSpinnerID is the stable id a subscriber registers under.
func subscriberSpinnerID(topic string) string {
	return "Subscriber://" + topic
}
