// Package mocks provides centralized test doubles for the queue's interfaces.
//
// TaskStore is a working in-memory implementation of store.TaskStore and
// store.OutboxStore with the same compare-and-swap and outbox semantics as
// the SQL stores, so worker and relay tests exercise real state changes.
// Generator, Renderer and Dispatcher record their calls and can be scripted
// through function fields:
//
//	gen := &mocks.Generator{
//	    GenerateFn: func(ctx context.Context, req generation.Request) (string, error) {
//	        return "", generation.ErrTransientFailure
//	    },
//	}
//
// Error-injection fields on TaskStore (ListPendingErr, TransitionErr, ...)
// simulate storage outages.
package mocks
