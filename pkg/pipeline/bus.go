// Package pipeline carries engine events to observers. Publishers never
// block: a subscriber whose channel is full misses the event.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"
)

// EventType names an event.
type EventType string

const (
	// EventStatus carries a status string for the presentation layer.
	EventStatus EventType = "status"
	// EventSegmentStart fires at speech onset; payload is SegmentInfo.
	EventSegmentStart EventType = "segment_start"
	// EventSegmentEnd fires when a segment closes; payload is SegmentInfo.
	EventSegmentEnd EventType = "segment_end"
	// EventSegmentDropped fires when a segment arrives while a turn is in flight.
	EventSegmentDropped EventType = "segment_dropped"
	// EventTurnResult carries the outcome of one turn.
	EventTurnResult EventType = "turn_result"
	// EventCaptureError carries a capture device error message.
	EventCaptureError EventType = "capture_error"
	// EventPlayback reports playback start and end; payload is bool.
	EventPlayback EventType = "playback"
	// EventError carries a non-fatal error message.
	EventError EventType = "error"
	// EventWarning carries a warning message.
	EventWarning EventType = "warning"
)

// AllEventTypes lists every event type published by the engine.
var AllEventTypes = []EventType{
	EventStatus,
	EventSegmentStart,
	EventSegmentEnd,
	EventSegmentDropped,
	EventTurnResult,
	EventCaptureError,
	EventPlayback,
	EventError,
	EventWarning,
}

// Event is one bus message.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// SegmentInfo describes a segment boundary.
type SegmentInfo struct {
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Bytes      int           `json:"bytes,omitempty"`
	SavedAs    string        `json:"saved_as,omitempty"`
	InProgress bool          `json:"in_progress,omitempty"`
}

const queueSize = 256

// Bus is a typed fan-out event bus. Before Start, Publish delivers
// synchronously; after Start, events are queued and delivered by a
// dispatcher goroutine in publish order.
type Bus interface {
	Subscribe(eventType EventType, ch chan<- Event)
	Unsubscribe(eventType EventType, ch chan<- Event)
	Publish(evt Event) bool
	Start(ctx context.Context) error
	Stop()
}

type eventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan<- Event

	runMu  sync.Mutex
	queue  chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventBus creates a stopped bus.
func NewEventBus() Bus {
	return &eventBus{
		subscribers: make(map[EventType][]chan<- Event),
	}
}

func (b *eventBus) Subscribe(eventType EventType, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
}

func (b *eventBus) Unsubscribe(eventType EventType, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[eventType]) == 0 {
		delete(b.subscribers, eventType)
	}
}

// Publish reports whether the event was delivered to every subscriber, or
// when started, accepted into the queue.
func (b *eventBus) Publish(evt Event) bool {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.runMu.Lock()
	queue := b.queue
	b.runMu.Unlock()

	if queue != nil {
		select {
		case queue <- evt:
			return true
		default:
			log.Printf("[EventBus] queue full, dropping %s event", evt.Type)
			return false
		}
	}
	return b.dispatch(evt)
}

func (b *eventBus) dispatch(evt Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := true
	for _, ch := range b.subscribers[evt.Type] {
		select {
		case ch <- evt:
		default:
			delivered = false
		}
	}
	return delivered
}

func (b *eventBus) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if b.queue != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	queue := make(chan Event, queueSize)
	b.queue = queue
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				// flush what is already queued
				for {
					select {
					case evt := <-queue:
						b.dispatch(evt)
					default:
						return
					}
				}
			case evt := <-queue:
				b.dispatch(evt)
			}
		}
	}()
	return nil
}

func (b *eventBus) Stop() {
	b.runMu.Lock()
	if b.queue == nil {
		b.runMu.Unlock()
		return
	}
	b.cancel()
	b.queue = nil
	b.cancel = nil
	b.runMu.Unlock()

	b.wg.Wait()
}
