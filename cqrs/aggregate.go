package cqrs

import (
	"context"
)

// Aggregate is an event-sourced consistency boundary.
//
// C is the aggregate's command set, E its event set and S the services it may
// call while deciding which events a command produces. Handle must not mutate
// the aggregate; state only changes through Apply. Apply must be total over E
// and may panic when handed an event it cannot interpret, since that means the
// stored stream and the code have diverged.
type Aggregate[C any, E Event, S any] interface {
	AggregateType() string
	Handle(ctx context.Context, cmd C, services S) ([]E, error)
	Apply(event E)
}
