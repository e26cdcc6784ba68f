package matchmaking

import (
	"fmt"
	"sort"
	"time"
)

// Policy is the rating tolerance that widens with wait time.
type Policy struct {
	Base     int
	Step     int
	Interval time.Duration
	Max      int
}

// DefaultPolicy returns ±100 rating, widening by 50 every 10s up to 1000.
func DefaultPolicy() Policy {
	return Policy{Base: 100, Step: 50, Interval: 10 * time.Second, Max: 1000}
}

// Validate rejects policies that never widen or start negative.
func (p Policy) Validate() error {
	switch {
	case p.Base < 0 || p.Step < 0:
		return fmt.Errorf("tolerance must not be negative")
	case p.Interval <= 0:
		return fmt.Errorf("tolerance interval must be positive")
	case p.Max < p.Base:
		return fmt.Errorf("max tolerance %d below base %d", p.Max, p.Base)
	}
	return nil
}

// Window returns the tolerated rating distance after waiting wait.
func (p Policy) Window(wait time.Duration) int {
	if wait < 0 {
		wait = 0
	}
	w := p.Base + p.Step*int(wait/p.Interval)
	if w > p.Max {
		return p.Max
	}
	return w
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// nextGroup finds the first group of size players in entries. Entries are
// scanned in FIFO order; each anchor takes the closest ratings inside its
// window, earliest enqueued first on equal distance.
func nextGroup(entries []Entry, size int, now time.Time, p Policy) []Entry {
	if len(entries) < size {
		return nil
	}
	for i, anchor := range entries {
		window := p.Window(now.Sub(anchor.EnqueuedAt))
		var candidates []Entry
		for j, e := range entries {
			if j != i && distance(anchor.Rating, e.Rating) <= window {
				candidates = append(candidates, e)
			}
		}
		if len(candidates) < size-1 {
			continue
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			da, db := distance(anchor.Rating, candidates[a].Rating), distance(anchor.Rating, candidates[b].Rating)
			if da != db {
				return da < db
			}
			return candidates[a].EnqueuedAt.Before(candidates[b].EnqueuedAt)
		})
		return append([]Entry{anchor}, candidates[:size-1]...)
	}
	return nil
}
