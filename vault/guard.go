package vault

import (
	"context"
)

// guardKey marks a context as being inside a guarded call of one engine.
type guardKey struct {
	engine *Engine
}

func (e *Engine) inGuard(ctx context.Context) bool {
	return ctx.Value(guardKey{e}) != nil
}

// guarded runs fn as one atomic, non-reentrant operation. fn sees a context
// carrying the engine's guard marker; every collaborator call must use it.
// If fn fails or panics, engine state and every revertible collaborator are
// restored to what they were on entry and buffered events are dropped.
func (e *Engine) guarded(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	if e.inGuard(ctx) {
		e.metrics.Operations(op, "reentrant").Inc()
		return ErrReentrantCall
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	timer := e.metrics.Latencies(op)
	defer timer.ObserveDuration()

	snapshots := make([]int, len(e.revertibles))
	for i, r := range e.revertibles {
		snapshots[i] = r.Snapshot()
	}
	e.journal = newJournal()

	rollback := func() {
		e.journal.revert(e)
		for i := len(e.revertibles) - 1; i >= 0; i-- {
			e.revertibles[i].RevertToSnapshot(snapshots[i])
		}
		e.journal = nil
		e.pending = nil
	}

	defer func() {
		if r := recover(); r != nil {
			rollback()
			e.metrics.Operations(op, "panic").Inc()
			panic(r)
		}
	}()

	if err = fn(context.WithValue(ctx, guardKey{e}, struct{}{})); err != nil {
		rollback()
		e.metrics.Operations(op, "rolled_back").Inc()
		e.logger.Info("operation rolled back", "operation", op, "err", err)
		return err
	}

	for i := len(e.revertibles) - 1; i >= 0; i-- {
		e.revertibles[i].DiscardSnapshot(snapshots[i])
	}
	e.journal = nil
	events := e.pending
	e.pending = nil
	e.metrics.Operations(op, "ok").Inc()
	e.publish(ctx, events)
	return nil
}

// view runs fn with the engine state stable. Inside a guarded call the lock
// is already held, so fn runs directly.
func (e *Engine) view(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.inGuard(ctx) {
		return fn(ctx)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(context.WithValue(ctx, guardKey{e}, struct{}{}))
}

func (e *Engine) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	if err := e.sink.Publish(ctx, events); err != nil {
		e.logger.Error("publishing events failed", "events", len(events), "err", err)
	}
}

// Atomically runs fn as an engine operation named op: serialized with every
// other call, rolled back on failure. It lets code that shares the engine's
// revertible collaborators change them without interleaving with engine calls.
func (e *Engine) Atomically(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.guarded(ctx, op, fn)
}

// View runs fn while no engine operation is in progress.
func (e *Engine) View(ctx context.Context, fn func(ctx context.Context) error) error {
	return e.view(ctx, fn)
}
