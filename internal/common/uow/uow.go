// Package uow coordinates write transactions with the change events their
// aggregates record. Events are delivered to the registered handlers only
// after the surrounding transaction has committed; a rollback drops them.
package uow

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event is one recorded change of an aggregate.
type Event struct {
	Aggregate string `json:"aggregate"`
	ID        string `json:"id"`
	Kind      string `json:"kind"`
}

const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// Recorder is implemented by aggregates that keep a list of pending events.
type Recorder interface {
	PullEvents() []Event
}

// Transactor runs fn inside a storage transaction. fn must use the context
// it is given for every storage call that should join the transaction.
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Handler receives the de-duplicated events of one committed unit.
type Handler func(ctx context.Context, events []Event)

type unitKey struct{}

// Unit collects the aggregates touched inside one transaction.
type Unit struct {
	mu      sync.Mutex
	tracked []Recorder
	events  []Event
}

// Track registers an aggregate whose events are pulled after commit.
func (u *Unit) Track(r Recorder) {
	u.mu.Lock()
	u.tracked = append(u.tracked, r)
	u.mu.Unlock()
}

// Record adds an event that has no aggregate instance to carry it.
func (u *Unit) Record(e Event) {
	u.mu.Lock()
	u.events = append(u.events, e)
	u.mu.Unlock()
}

// collect drains all pending events, dropping duplicates and keeping the
// first occurrence order.
func (u *Unit) collect() []Event {
	u.mu.Lock()
	defer u.mu.Unlock()

	all := append([]Event(nil), u.events...)
	for _, r := range u.tracked {
		all = append(all, r.PullEvents()...)
	}
	u.events = nil
	u.tracked = nil

	seen := make(map[Event]struct{}, len(all))
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// FromContext returns the unit bound to ctx, if any.
func FromContext(ctx context.Context) *Unit {
	u, _ := ctx.Value(unitKey{}).(*Unit)
	return u
}

// Coordinator owns the post-commit handler list.
type Coordinator struct {
	logger     *zap.Logger
	transactor Transactor

	mu       sync.RWMutex
	handlers []Handler
}

// NewCoordinator creates a coordinator over the given transactor
func NewCoordinator(logger *zap.Logger, transactor Transactor) *Coordinator {
	return &Coordinator{
		logger:     logger.Named("uow"),
		transactor: transactor,
	}
}

// OnCommit registers a handler for committed events.
func (c *Coordinator) OnCommit(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Run executes fn in a transaction. When ctx already carries a unit, fn
// joins it and delivery is left to the outermost Run.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context, u *Unit) error) error {
	if u := FromContext(ctx); u != nil {
		return fn(ctx, u)
	}

	u := &Unit{}
	err := c.transactor.Transaction(ctx, func(txCtx context.Context) error {
		return fn(context.WithValue(txCtx, unitKey{}, u), u)
	})
	if err != nil {
		if dropped := len(u.collect()); dropped > 0 {
			c.logger.Debug("transaction rolled back, dropping events", zap.Int("events", dropped))
		}
		return err
	}

	events := u.collect()
	if len(events) == 0 {
		return nil
	}

	c.mu.RLock()
	handlers := append([]Handler(nil), c.handlers...)
	c.mu.RUnlock()

	c.logger.Debug("delivering committed events",
		zap.Int("events", len(events)),
		zap.Int("handlers", len(handlers)))
	for _, h := range handlers {
		h(ctx, events)
	}
	return nil
}
