// Package goal derives progress toward a monetary target from a brand ledger.
package goal

import (
	"fmt"

	"github.com/sw33tLie/emvscope/pkg/ledger"
)

// State is a derived view; it is recomputed on every call and never stored.
type State struct {
	Brand    string
	Target   float64
	Current  float64
	Progress float64 // in [0,1]
	Reached  bool
}

// Progress computes the goal state of l against target.
// A non-positive target is trivially reached.
func Progress(l ledger.BrandLedger, target float64) State {
	s := State{Brand: l.Brand, Target: target, Current: l.Money}
	if !(target > 0) {
		s.Progress = 1
		s.Reached = true
		return s
	}
	s.Progress = l.Money / target
	if s.Progress > 1 {
		s.Progress = 1
	}
	if !(s.Progress > 0) {
		s.Progress = 0
	}
	s.Reached = l.Money >= target
	return s
}

// Percent returns Progress as an integer percentage.
func (s State) Percent() int {
	return int(s.Progress * 100)
}

func (s State) String() string {
	return fmt.Sprintf("$%.2f / $%.2f", s.Current, s.Target)
}

// Watcher reports the not-reached to reached transition exactly once.
// Callers use it to fire one-off side effects.
type Watcher struct {
	fired bool
}

// Observe returns true the first time s is reached.
func (w *Watcher) Observe(s State) bool {
	if s.Reached && !w.fired {
		w.fired = true
		return true
	}
	return false
}

// Reset re-arms the watcher, e.g. after a session reset.
func (w *Watcher) Reset() { w.fired = false }
