package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Handler is a function supplied by event subscribers.
type Handler func(e *Event) error

// subscriptions associates event handlers to event types.
type subscriptions struct {
	s map[Type][]Handler
	sync.RWMutex
}

// Subscribe a handler to a specific event type.
func (s *subscriptions) Subscribe(t Type, h Handler) {
	s.Lock()
	defer s.Unlock()
	if s.s == nil {
		s.s = map[Type][]Handler{}
	}
	s.s[t] = append(s.s[t], h)
}

func (s *subscriptions) handlers(t Type) []Handler {
	s.RLock()
	defer s.RUnlock()
	return s.s[t]
}

// Dispatcher delivers the events of a committed session to the in-process
// subscribers and then to the publisher. Subscriber failures are logged and
// do not stop delivery; the first publisher failure is returned after every
// event has been attempted.
type Dispatcher struct {
	logger    logrus.FieldLogger
	publisher Publisher
	subscriptions
}

// NewDispatcher returns a usable Dispatcher. A nil publisher disables
// publishing.
func NewDispatcher(logger logrus.FieldLogger, publisher Publisher) *Dispatcher {
	return &Dispatcher{
		logger:    logger.WithField("component", "events"),
		publisher: publisher,
	}
}

// Dispatch delivers events in order.
func (d *Dispatcher) Dispatch(ctx context.Context, events []*Event) error {
	var first error
	for _, e := range events {
		for _, h := range d.handlers(e.Type) {
			if err := d.handle(h, e); err != nil {
				d.logger.WithFields(logrus.Fields{"event": e.ID, "type": e.Type.String()}).Error("Handler failure: ", err)
			}
		}
		if d.publisher == nil {
			continue
		}
		if err := d.publisher.Publish(ctx, e); err != nil {
			d.logger.WithField("event", e.ID).Error("Event could not be published: ", err)
			if first == nil {
				first = errors.Wrapf(err, "publish %s", e)
			}
		}
	}
	return first
}

// handle runs the handler in panic recovery mode.
func (d *Dispatcher) handle(h Handler, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic! %s %s", r, debug.Stack())
		}
	}()
	return h(e)
}
