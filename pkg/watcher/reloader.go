package watcher

import (
	"context"

	"github.com/ritzau/ds-audit/pkg/logging"
)

// ReloadFunc reacts to a debounced change of one file type.
type ReloadFunc func(ctx context.Context, event ChangeEvent) error

// Reloader dispatches change events to the handler registered for their type.
type Reloader struct {
	handlers map[ChangeType]ReloadFunc
}

// NewReloader creates an empty dispatcher.
func NewReloader() *Reloader {
	return &Reloader{handlers: make(map[ChangeType]ReloadFunc)}
}

// On registers the handler for a change type, replacing any previous one.
func (r *Reloader) On(typ ChangeType, fn ReloadFunc) *Reloader {
	r.handlers[typ] = fn
	return r
}

// Run consumes events until the channel closes or ctx ends. Handler errors
// are logged and do not stop the loop; a broken file is retried on its
// next change.
func (r *Reloader) Run(ctx context.Context, events <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			fn, found := r.handlers[event.Type]
			if !found {
				logging.Debug("no handler for change", "type", event.Type.String())
				continue
			}
			if err := fn(ctx, event); err != nil {
				logging.Warn("reload failed", "type", event.Type.String(), "error", err)
				continue
			}
			logging.Info("reloaded after external edit", "type", event.Type.String(), "paths", len(event.Paths))
		}
	}
}
