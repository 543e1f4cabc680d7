package agora

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventVoteCast       EventType = "vote_cast"
	EventAnswerAccepted EventType = "answer_accepted"
	EventCommentCreated EventType = "comment_created"
)

// An Event tells notification collaborators that something happened. Delivery
// is best effort and never affects the action that emitted it.
type Event struct {
	Type        EventType  `json:"type"`
	TargetID    string     `json:"target_id"`
	TargetKind  TargetKind `json:"target_kind"`
	QuestionID  string     `json:"question_id"`
	ActorID     string     `json:"actor_id"`
	RecipientID string     `json:"recipient_id"`
	Transition  string     `json:"transition,omitempty"`
	Excerpt     string     `json:"excerpt,omitempty"`
	At          time.Time  `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// dispatcher hands events to a notifier from a single background goroutine.
type dispatcher struct {
	notifier Notifier
	logger   zerolog.Logger
	events   chan Event
	timeout  time.Duration
	dropped  func()
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newDispatcher(n Notifier, buffer int, logger zerolog.Logger, dropped func()) *dispatcher {
	d := &dispatcher{
		notifier: n,
		logger:   logger,
		events:   make(chan Event, buffer),
		timeout:  10 * time.Second,
		dropped:  dropped,
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.notifier.Notify(ctx, ev)
		cancel()
		if err != nil {
			d.logger.Warn().Err(err).Str("event", string(ev.Type)).Str("target", ev.TargetID).Msg("Failed to deliver event")
		}
	}
}

// emit queues ev without blocking. When the queue is full the event is dropped.
func (d *dispatcher) emit(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Str("event", string(ev.Type)).Str("target", ev.TargetID).Msg("Event queue full, dropping event")
		if d.dropped != nil {
			d.dropped()
		}
	}
}

// close stops accepting events and waits for queued ones to be delivered.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	d.wg.Wait()
}
