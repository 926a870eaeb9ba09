package cqrs

import (
	"context"
	"errors"
	"fmt"
)

type counterEvent interface {
	Event
	isCounterEvent()
}

type incremented struct {
	By int `json:"by"`
}

func (incremented) EventType() string    { return "Incremented" }
func (incremented) EventVersion() string { return "1.0.0" }
func (incremented) isCounterEvent()      {}

type reset struct{}

func (reset) EventType() string    { return "Reset" }
func (reset) EventVersion() string { return "1.0.0" }
func (reset) isCounterEvent()      {}

type increment struct {
	By int
}

type counterServices struct {
	check func(ctx context.Context, by int) error
}

type counter struct {
	Total   int `json:"total"`
	Applied int `json:"-"`
}

func newCounter() *counter {
	return &counter{}
}

func (c *counter) AggregateType() string { return "counter" }

func (c *counter) Handle(ctx context.Context, cmd increment, services counterServices) ([]counterEvent, error) {
	if cmd.By == 0 {
		return nil, NewDomainError("nothing to add")
	}
	if services.check != nil {
		if err := services.check(ctx, cmd.By); err != nil {
			return nil, err
		}
	}
	if cmd.By < 0 {
		return []counterEvent{reset{}}, nil
	}
	return []counterEvent{incremented{By: cmd.By}}, nil
}

func (c *counter) Apply(event counterEvent) {
	switch e := event.(type) {
	case incremented:
		c.Total += e.By
	case reset:
		c.Total = 0
	default:
		panic(fmt.Sprintf("counter: corrupt stream, cannot apply %T", event))
	}
	c.Applied++
}

type counterView struct {
	Total  int   `json:"total"`
	Events []int `json:"events"`
}

func newCounterView() *counterView {
	return &counterView{}
}

func (v *counterView) Update(env EventEnvelope[counterEvent]) {
	switch e := env.Event.(type) {
	case incremented:
		v.Total += e.By
	case reset:
		v.Total = 0
	}
	v.Events = append(v.Events, env.Sequence)
}

type recordingQuery struct {
	name     string
	err      error
	received [][]EventEnvelope[counterEvent]
}

func (q *recordingQuery) Name() string { return q.name }

func (q *recordingQuery) Dispatch(ctx context.Context, aggregateID string, events []EventEnvelope[counterEvent]) error {
	q.received = append(q.received, events)
	return q.err
}

var errBackendDown = errors.New("backend down")
