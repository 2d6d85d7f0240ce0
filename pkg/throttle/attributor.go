package throttle

import "sync"

// Attributor remembers which calls the throttler cancelled itself, so that a
// cancellation seen by the awaiting side can be told apart from one issued by
// somebody else.
//
// Marks are one-shot: Consume clears the mark it reports.
type Attributor struct {
	mu     sync.Mutex
	marked map[uint64]struct{}
}

func (a *Attributor) Mark(id uint64) {
	a.mu.Lock()
	if a.marked == nil {
		a.marked = make(map[uint64]struct{})
	}
	a.marked[id] = struct{}{}
	a.mu.Unlock()
}

// Consume reports whether id was marked and clears the mark.
func (a *Attributor) Consume(id uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.marked[id]; !ok {
		return false
	}
	delete(a.marked, id)
	return true
}

// Len reports how many marks are outstanding.
func (a *Attributor) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.marked)
}
