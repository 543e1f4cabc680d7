package agora

import (
	"context"
	"errors"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/rs/zerolog"
)

func TestDispatcher(t *testing.T) {
	c := qt.New(t)

	c.Run("delivers queued events before closing", func(c *qt.C) {
		var mu sync.Mutex
		var got []string
		n := NotifierFunc(func(ctx context.Context, ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev.TargetID)
			return nil
		})

		d := newDispatcher(n, 10, zerolog.Nop(), nil)
		for _, id := range []string{"a", "b", "c"} {
			d.emit(Event{Type: EventVoteCast, TargetID: id})
		}
		d.close()

		c.Assert(got, qt.DeepEquals, []string{"a", "b", "c"})
	})

	c.Run("failures do not stop delivery", func(c *qt.C) {
		calls := 0
		n := NotifierFunc(func(ctx context.Context, ev Event) error {
			calls++
			return errors.New("slack is down")
		})

		d := newDispatcher(n, 10, zerolog.Nop(), nil)
		d.emit(Event{TargetID: "a"})
		d.emit(Event{TargetID: "b"})
		d.close()

		c.Assert(calls, qt.Equals, 2)
	})

	c.Run("drops events when full", func(c *qt.C) {
		release := make(chan struct{})
		started := make(chan struct{})
		var once sync.Once
		n := NotifierFunc(func(ctx context.Context, ev Event) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		})

		dropped := 0
		d := newDispatcher(n, 1, zerolog.Nop(), func() { dropped++ })
		d.emit(Event{TargetID: "a"})
		<-started
		d.emit(Event{TargetID: "b"})
		d.emit(Event{TargetID: "c"})
		d.emit(Event{TargetID: "d"})

		c.Assert(dropped, qt.Equals, 2)
		close(release)
		d.close()
	})

	c.Run("emitting after close is a no-op", func(c *qt.C) {
		d := newDispatcher(NotifierFunc(func(context.Context, Event) error { return nil }), 1, zerolog.Nop(), nil)
		d.close()
		d.close()
		d.emit(Event{TargetID: "a"})
	})
}
