package incidents

import "time"

// SetClock replaces the orchestrator clock.
func SetClock(o *Orchestrator, now func() time.Time) {
	o.now = now
}
