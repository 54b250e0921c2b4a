package server

import (
	"context"
	"sync"
	"time"
)

const (
	DeckEventCardsChanged = "cards-changed"
	DeckEventDeckChanged  = "deck-changed"
	DeckEventDeckDeleted  = "deck-deleted"
	deckEventHeartbeat    = "heartbeat"
	deckEventSource       = "magidekt-api"
	defaultEventBuffer    = 16
)

// DeckEvent announces a change to one of an owner's decks.
type DeckEvent struct {
	Owner     string
	EventType string
	DeckID    int64
	CardIDs   []string
	Timestamp time.Time
}

// DeckEventDispatcher fans deck events out to the owner's open streams.
// Slow subscribers drop events instead of blocking publishers.
type DeckEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan DeckEvent
}

func NewDeckEventDispatcher() *DeckEventDispatcher {
	return &DeckEventDispatcher{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		bufferSize:  defaultEventBuffer,
	}
}

// Subscribe registers a stream for owner until ctx ends or cleanup is called.
func (d *DeckEventDispatcher) Subscribe(ctx context.Context, owner string) (<-chan DeckEvent, func()) {
	if owner == "" {
		ch := make(chan DeckEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan DeckEvent, d.bufferSize),
	}
	d.registerSubscriber(owner, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(owner, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *DeckEventDispatcher) Publish(event DeckEvent) {
	if d == nil || event.Owner == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers[event.Owner] {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *DeckEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *DeckEventDispatcher) registerSubscriber(owner string, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[owner]; !ok {
		d.subscribers[owner] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[owner][subscriber.id] = subscriber
}

func (d *DeckEventDispatcher) unregisterSubscriber(owner string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subscribers := d.subscribers[owner]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, owner)
	}
}
