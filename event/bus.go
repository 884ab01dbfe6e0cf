// Package event implements a publish/subscribe bus used to fan out the
// replication engine's lifecycle notifications (spec.md §4.7) to any number
// of listeners without components reaching for each other directly.
package event

import (
	"context"
	"sync"
	"time"

	golog "github.com/ipfs/go-log"
)

var log = golog.Logger("event")

// Topic is a labeled category of event. Topics are namespaced
// "component:Name" the way spec.md names its lifecycle events.
type Topic string

// NowFunc is overridable for deterministic tests.
var NowFunc = time.Now

// Event is a single notification carried on the bus.
type Event struct {
	Topic     Topic
	ID        string
	Timestamp int64
	Payload   interface{}
}

// Handler is a callback invoked synchronously, in subscription order, for
// every event it's registered against. A Handler that returns an error does
// not stop delivery to other handlers, but is surfaced by Synchronizer.Wait
// when the publish was made as part of a synchronized dispatch.
type Handler func(ctx context.Context, e Event) error

// Bus is a synchronous multi-subscriber event dispatcher. All dispatch
// happens on the publishing goroutine, preserving the single-threaded
// cooperative ordering spec.md §5 requires: handlers for one Publish call
// run to completion before Publish returns — catch-all handlers first, then
// topic handlers, then id handlers, each group in subscription order.
type Bus interface {
	// Publish sends an event on a topic to all of that topic's subscribers,
	// plus any catch-all subscribers.
	Publish(ctx context.Context, topic Topic, payload interface{})
	// PublishID is Publish plus an identifier (a DocId or ActorId) that
	// ID-scoped subscribers can filter on.
	PublishID(ctx context.Context, topic Topic, id string, payload interface{})
	// Subscribe returns a channel of events for the given topics. The
	// channel is closed when the Bus's context is canceled.
	Subscribe(topics ...Topic) <-chan Event
	// SubscribeID registers handler to run only for events published with
	// PublishID using this exact id.
	SubscribeID(handler Handler, id string)
	// SubscribeTopics registers handler to run for events on any of the
	// given topics.
	SubscribeTopics(handler Handler, topics ...Topic)
	// SubscribeAll registers handler to run for every event on the bus.
	SubscribeAll(handler Handler)
	// Synchronizer returns a fresh Synchronizer bound to this bus, used to
	// block until every handler invoked by a subsequent Publish has run.
	Synchronizer() Synchronizer
	// Acknowledge reports that a consumer reading from a channel returned by
	// Subscribe has finished processing e, for use with Synchronizer.
	Acknowledge(e Event, err error)
}

type bus struct {
	ctx context.Context

	lock        sync.Mutex
	topicHandlers map[Topic][]Handler
	idHandlers    map[string][]Handler
	allHandlers   []Handler
	chanSubs      map[Topic][]chan Event

	syncLock sync.Mutex
	syncs    []*synchronizer
}

// NewBus creates a new event bus. ctx cancellation closes all channel
// subscriptions created with Subscribe.
func NewBus(ctx context.Context) Bus {
	b := &bus{
		ctx:           ctx,
		topicHandlers: map[Topic][]Handler{},
		idHandlers:    map[string][]Handler{},
		chanSubs:      map[Topic][]chan Event{},
	}
	go func() {
		<-ctx.Done()
		b.closeChannels()
	}()
	return b
}

func (b *bus) Publish(ctx context.Context, topic Topic, payload interface{}) {
	b.publish(ctx, Event{Topic: topic, Timestamp: NowFunc().UnixNano(), Payload: payload})
}

func (b *bus) PublishID(ctx context.Context, topic Topic, id string, payload interface{}) {
	b.publish(ctx, Event{Topic: topic, ID: id, Timestamp: NowFunc().UnixNano(), Payload: payload})
}

func (b *bus) publish(ctx context.Context, e Event) {
	b.lock.Lock()
	handlers := make([]Handler, 0, len(b.allHandlers))
	handlers = append(handlers, b.allHandlers...)
	handlers = append(handlers, b.topicHandlers[e.Topic]...)
	if e.ID != "" {
		handlers = append(handlers, b.idHandlers[e.ID]...)
	}
	chans := append([]chan Event{}, b.chanSubs[e.Topic]...)
	b.lock.Unlock()

	outstanding := b.outstandingSynchronizers(e.Topic, len(handlers)+len(chans))

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			log.Debugw("event handler error", "topic", e.Topic, "err", err)
			b.ackSynchronizers(outstanding, e, err)
		} else {
			b.ackSynchronizers(outstanding, e, nil)
		}
	}

	for _, ch := range chans {
		select {
		case ch <- e:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *bus) Subscribe(topics ...Topic) <-chan Event {
	ch := make(chan Event)
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, t := range topics {
		b.chanSubs[t] = append(b.chanSubs[t], ch)
	}
	return ch
}

func (b *bus) SubscribeID(handler Handler, id string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.idHandlers[id] = append(b.idHandlers[id], handler)
}

func (b *bus) SubscribeTopics(handler Handler, topics ...Topic) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, t := range topics {
		b.topicHandlers[t] = append(b.topicHandlers[t], handler)
	}
}

func (b *bus) SubscribeAll(handler Handler) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

func (b *bus) closeChannels() {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, chans := range b.chanSubs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.chanSubs = map[Topic][]chan Event{}
}

// Synchronizer lets a publisher block until every handler acknowledges an
// event it cares about, collapsing any handler errors into one result.
type Synchronizer interface {
	// Outstanding registers that n acknowledgements are expected for topic
	// before Wait unblocks.
	Outstanding(topic Topic, n int)
	// Wait blocks until every outstanding acknowledgement across every
	// topic has arrived, returning the first error received, if any.
	Wait() error
}

type synchronizer struct {
	mu     sync.Mutex
	want   map[Topic]int
	err    error
	done   chan struct{}
	closed bool
}

func (b *bus) Synchronizer() Synchronizer {
	s := &synchronizer{want: map[Topic]int{}, done: make(chan struct{})}
	b.syncLock.Lock()
	b.syncs = append(b.syncs, s)
	b.syncLock.Unlock()
	return s
}

func (s *synchronizer) Outstanding(topic Topic, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.want[topic] += n
}

func (s *synchronizer) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *synchronizer) ack(e Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err != nil && s.err == nil {
		s.err = err
	}
	s.want[e.Topic]--
	for _, n := range s.want {
		if n > 0 {
			return
		}
	}
	s.closed = true
	close(s.done)
}

// outstandingSynchronizers registers that handlerCount acknowledgements (one
// per handler and one per channel subscriber) are expected on topic for
// every synchronizer currently live on the bus, and
// returns the set so publish can acknowledge them as handlers run.
func (b *bus) outstandingSynchronizers(topic Topic, handlerCount int) []*synchronizer {
	b.syncLock.Lock()
	defer b.syncLock.Unlock()
	live := make([]*synchronizer, 0, len(b.syncs))
	for _, s := range b.syncs {
		s.Outstanding(topic, handlerCount)
		live = append(live, s)
	}
	return live
}

func (b *bus) ackSynchronizers(syncs []*synchronizer, e Event, err error) {
	for _, s := range syncs {
		s.ack(e, err)
	}
}

// Acknowledge reports that a consumer reading from a Subscribe channel has
// finished processing e, for use with Synchronizer-based publishers.
func (b *bus) Acknowledge(e Event, err error) {
	b.syncLock.Lock()
	syncs := append([]*synchronizer{}, b.syncs...)
	b.syncLock.Unlock()
	for _, s := range syncs {
		s.ack(e, err)
	}
}
