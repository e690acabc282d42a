package scheduler

// frontier is the FIFO queue of not-yet-issued page requests. Entries
// are popped oldest-first so all dates progress fairly; no per-date
// priority exists. The seen set enforces the evidence invariant's
// uniqueness half: a (date, startRow) pair is never queued twice.
//
// The frontier is owned by the scheduler's coordinator loop and is
// never touched from another goroutine.
type frontier struct {
	entries []FrontierEntry
	seen    map[string]bool
}

func newFrontier() *frontier {
	return &frontier{
		seen: make(map[string]bool),
	}
}

// push enqueues an entry unless it was ever queued before.
func (f *frontier) push(entry FrontierEntry) bool {
	k := entry.key()
	if f.seen[k] {
		return false
	}
	f.seen[k] = true
	f.entries = append(f.entries, entry)
	return true
}

// popN removes and returns up to n of the oldest entries.
func (f *frontier) popN(n int) []FrontierEntry {
	if n > len(f.entries) {
		n = len(f.entries)
	}
	popped := f.entries[:n]
	f.entries = f.entries[n:]
	return popped
}

// len returns the number of queued entries.
func (f *frontier) len() int {
	return len(f.entries)
}
