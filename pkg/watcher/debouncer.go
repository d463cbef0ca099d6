package watcher

import (
	"context"
	"sort"
	"time"

	"github.com/ritzau/ds-audit/pkg/logging"
)

// Debouncer merges bursts of change events so a file rewritten several
// times in quick succession triggers one reload.
type Debouncer struct {
	input       <-chan ChangeEvent
	output      chan ChangeEvent
	quietPeriod time.Duration
	maxWait     time.Duration
}

// NewDebouncer creates a debouncer that emits once input has been quiet
// for quietPeriod, or at the latest maxWait after the first pending event.
func NewDebouncer(input <-chan ChangeEvent, quietPeriod, maxWait time.Duration) *Debouncer {
	return &Debouncer{
		input:       input,
		output:      make(chan ChangeEvent, 10),
		quietPeriod: quietPeriod,
		maxWait:     maxWait,
	}
}

// Start begins processing events with debouncing
func (d *Debouncer) Start(ctx context.Context) {
	go d.run(ctx)
}

func (d *Debouncer) run(ctx context.Context) {
	var (
		quiet       *time.Timer
		deadline    *time.Timer
		accumulated = make(map[ChangeType][]string)
	)

	stop := func(t *time.Timer) *time.Timer {
		if t != nil {
			t.Stop()
		}
		return nil
	}
	timerC := func(t *time.Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C
	}

	flush := func() {
		quiet = stop(quiet)
		deadline = stop(deadline)
		if len(accumulated) == 0 {
			return
		}
		types := make([]ChangeType, 0, len(accumulated))
		for typ := range accumulated {
			types = append(types, typ)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

		logging.Debug("flushing accumulated changes", "types", len(types))
		for _, typ := range types {
			d.output <- ChangeEvent{Type: typ, Paths: accumulated[typ], Timestamp: time.Now()}
		}
		accumulated = make(map[ChangeType][]string)
	}

	defer close(d.output)

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case event, ok := <-d.input:
			if !ok {
				flush()
				return
			}
			for _, p := range event.Paths {
				accumulated[event.Type] = appendUnique(accumulated[event.Type], p)
			}
			if len(event.Paths) == 0 {
				if _, seen := accumulated[event.Type]; !seen {
					accumulated[event.Type] = nil
				}
			}

			stop(quiet)
			quiet = time.NewTimer(d.quietPeriod)
			if deadline == nil {
				deadline = time.NewTimer(d.maxWait)
			}

		case <-timerC(quiet):
			flush()

		case <-timerC(deadline):
			flush()
		}
	}
}

// Output returns the channel of debounced events
func (d *Debouncer) Output() <-chan ChangeEvent {
	return d.output
}
