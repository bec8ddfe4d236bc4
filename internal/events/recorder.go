package events

import (
	"context"
	"sync"
)

// Recorder keeps published events in memory. Used by tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []*WalletsUpdated
}

func (r *Recorder) PublishWalletsUpdated(_ context.Context, ev *WalletsUpdated) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []*WalletsUpdated {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*WalletsUpdated(nil), r.events...)
}
