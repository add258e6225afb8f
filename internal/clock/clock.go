// Package clock owns simulation time. The event loop is the only writer; all
// other components read "now" through the engine context.
package clock

import (
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"

	"quant/internal/calendar"
	"quant/internal/schema"
)

var (
	ErrNoExchange     = stderrors.New("clock requires at least one exchange")
	ErrTimeRegression = stderrors.New("clock moved backwards")
)

// Clock holds the current simulation instant and schedules session-close
// boundaries for each configured exchange. Time never decreases.
type Clock struct {
	now       time.Time
	exchanges []string
	nextClose map[string]time.Time
}

// New creates a clock starting at the given instant.
func New(start time.Time, exchanges []string) (*Clock, error) {
	if len(exchanges) == 0 {
		return nil, ErrNoExchange
	}
	c := &Clock{
		now:       start.UTC(),
		exchanges: append([]string(nil), exchanges...),
		nextClose: make(map[string]time.Time, len(exchanges)),
	}
	for _, ex := range c.exchanges {
		close, err := calendar.NextClose(ex, c.now)
		if err != nil {
			return nil, errors.Wrapf(err, "schedule %s", ex)
		}
		c.nextClose[ex] = close
	}
	return c, nil
}

// Now returns the current simulation instant in UTC.
func (c *Clock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward. Equal timestamps are allowed, regression
// is a fatal ordering bug.
func (c *Clock) Advance(ts time.Time) error {
	ts = ts.UTC()
	if ts.Before(c.now) {
		return errors.Wrapf(ErrTimeRegression, "%s -> %s", c.now, ts)
	}
	c.now = ts
	return nil
}

// BoundariesUntil returns session-close clock ticks scheduled at or before
// ts, in chronological order, and advances the internal schedule past them.
// Exchanges are visited in configuration order so ties are deterministic.
func (c *Clock) BoundariesUntil(ts time.Time) ([]schema.Event, error) {
	ts = ts.UTC()
	var out []schema.Event
	for _, ex := range c.exchanges {
		for !c.nextClose[ex].After(ts) {
			boundary := c.nextClose[ex]
			out = append(out, schema.Event{
				Ts:   boundary,
				Type: schema.EventClock,
				Tick: &schema.ClockTick{Exchange: ex, Label: "close"},
			})
			next, err := calendar.NextClose(ex, boundary.Add(time.Second))
			if err != nil {
				return nil, errors.Wrapf(err, "schedule %s", ex)
			}
			c.nextClose[ex] = next
		}
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(events []schema.Event) {
	// Insertion sort keeps the configuration-order tie break stable; the
	// slice is at most a handful of boundaries.
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Ts.Before(events[j-1].Ts); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}
