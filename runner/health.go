package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/pilatus-run/pilatus/recipe"
)

// HealthCheck is a named, periodically re-run probe, modeled on the plugin
// SDK's PeriodicHealthCheck: a Check function is invoked on a ticker and
// its last result cached for Status to read without blocking on the next
// run.
type HealthCheck struct {
	Name     string
	Interval time.Duration
	Check    func() error

	mu      sync.RWMutex
	lastRun time.Time
	lastErr error
}

// NewHealthCheck creates a health check that calls check every interval
// once Run is started.
func NewHealthCheck(name string, interval time.Duration, check func() error) *HealthCheck {
	return &HealthCheck{Name: name, Interval: interval, Check: check}
}

// Run invokes Check once immediately and then on every tick, until done is
// closed. Intended to be started as a goroutine.
func (h *HealthCheck) Run(done <-chan struct{}) {
	h.update()
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.update()
		}
	}
}

func (h *HealthCheck) update() {
	err := h.Check()
	h.mu.Lock()
	h.lastErr = err
	h.lastRun = time.Now()
	h.mu.Unlock()
}

// Status reports the outcome of the most recent run.
func (h *HealthCheck) Status() (ok bool, lastRun time.Time, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr == nil, h.lastRun, h.lastErr
}

// HealthCheck returns a check that verifies every device in the runner's
// current generation still answers to a sender lookup, i.e. it is
// registered and its mailbox has not been closed (spec §10's supplemented
// health-check feature).
func (r *Runner) HealthCheck(interval time.Duration) *HealthCheck {
	return NewHealthCheck("active-generation", interval, func() error {
		r.mu.Lock()
		ids := make([]recipe.DeviceID, 0, len(r.handles))
		for id := range r.handles {
			ids = append(ids, id)
		}
		r.mu.Unlock()

		for _, id := range ids {
			sender, err := r.system.GetSender(id)
			if err != nil {
				return fmt.Errorf("device %s unreachable: %w", id, err)
			}
			sender.Close()
		}
		return nil
	})
}
