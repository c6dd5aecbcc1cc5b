package thread

import (
	"context"
	"time"
)

// Housekeep reaps adopted External threads the platform reports gone: each is
// marked Terminated and detached from its storages. It returns the number of
// threads reaped.
func (r *Registry) Housekeep() int {
	r.extMu.Lock()
	var dead []*Thread
	for n := r.external.Length(); n > 0; n-- {
		t := r.external.Remove().(*Thread)
		if r.platform.Alive(t.ID()) {
			r.external.Add(t)
			continue
		}
		dead = append(dead, t)
	}
	pending := r.external.Length()
	r.extMu.Unlock()

	for _, t := range dead {
		t.mu.Lock()
		t.state = Terminated
		t.mu.Unlock()
		t.notifyTerminated()
		r.stats.externalReaped.Add(1)
	}
	if len(dead) > 0 {
		r.log.Debug().Int("reaped", len(dead)).Int("pending", pending).Msg("External threads reaped")
	}
	return len(dead)
}

// PendingExternal returns the number of adopted threads awaiting reaping.
func (r *Registry) PendingExternal() int {
	r.extMu.Lock()
	defer r.extMu.Unlock()
	return r.external.Length()
}

// RunHousekeeping calls Housekeep every interval until ctx is done.
func (r *Registry) RunHousekeeping(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", interval).Msg("Thread housekeeping started")
	for {
		select {
		case <-ctx.Done():
			r.Housekeep()
			r.log.Info().Msg("Thread housekeeping stopped")
			return
		case <-ticker.C:
			r.Housekeep()
		}
	}
}
