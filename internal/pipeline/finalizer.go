package pipeline

import (
	"github.com/0xFlo/prism-sub006/internal/scheduler"
)

// finalizer turns arrival order into release order.
//
// Completions from a concurrently-dispatched batch arrive in whatever
// order each date's last page happens to land, but persistence, the
// progress feed, and the consecutive-empty-day halt must all observe
// dates in the committed order: newest first. Newest-first is the
// backfill direction — walking back from yesterday, a run of empty
// days means the property's recorded history has ended and older dates
// are not worth quota. Evaluating that threshold against arrival order
// would fire it on whichever dates merely finished early.
//
// Out-of-order completions are buffered until every newer date has
// itself completed, then released in sequence.
type finalizer struct {
	order    []string // committed order, newest first
	next     int      // index of the next date eligible for release
	pending  map[string]scheduler.DayResult
	release  func(scheduler.DayResult) scheduler.Signal
	releases int
}

func newFinalizer(orderedDates []string, release func(scheduler.DayResult) scheduler.Signal) *finalizer {
	return &finalizer{
		order:   orderedDates,
		pending: make(map[string]scheduler.DayResult),
		release: release,
	}
}

// complete is the scheduler's onComplete callback. It buffers the
// result and releases every date that is now unblocked, in committed
// order. The first halt produced by a release wins.
func (fz *finalizer) complete(result scheduler.DayResult) scheduler.Signal {
	fz.pending[result.Date] = result

	var signal scheduler.Signal
	for fz.next < len(fz.order) {
		buffered, ok := fz.pending[fz.order[fz.next]]
		if !ok {
			break
		}
		delete(fz.pending, fz.order[fz.next])
		fz.next++
		fz.releases++

		released := fz.release(buffered)
		if released.Halt && !signal.Halt {
			signal = released
		}
	}

	return signal
}

// flushRemaining releases any still-buffered completions after the
// scheduler run has ended, skipping over dates that never completed
// (a halt prevented their seeding). Without this, a date that finished
// out of order behind a halted gap would lose its rows.
func (fz *finalizer) flushRemaining() {
	for fz.next < len(fz.order) {
		date := fz.order[fz.next]
		fz.next++

		buffered, ok := fz.pending[date]
		if !ok {
			continue
		}
		delete(fz.pending, date)
		fz.releases++
		fz.release(buffered)
	}
}

// released reports how many dates have been released so far.
func (fz *finalizer) released() int {
	return fz.releases
}
