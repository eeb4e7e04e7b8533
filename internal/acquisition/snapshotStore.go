package acquisition

import (
	"sync/atomic"

	"sleepywoodpecker/carmonitor/internal/telemetry"
)

// snapshotStore is the one slot shared between the polling goroutine and its
// readers. Every Store swaps in a whole new snapshot, so a Load never sees a
// half-written sample.
type snapshotStore struct {
	latest atomic.Pointer[telemetry.Snapshot]
}

func (s *snapshotStore) Store(snapshot telemetry.Snapshot) {
	s.latest.Store(&snapshot)
}

// Load returns a copy of the latest snapshot, or the zero snapshot before the
// first poll.
func (s *snapshotStore) Load() telemetry.Snapshot {
	if p := s.latest.Load(); p != nil {
		return *p
	}
	return telemetry.Snapshot{Link: telemetry.LinkDisconnected}
}

// SetLink republishes the latest snapshot with a new link state, keeping its
// sequence number.
func (s *snapshotStore) SetLink(link telemetry.LinkState) {
	p := s.latest.Load()
	if p == nil {
		return
	}
	updated := *p
	updated.Link = link
	s.latest.CompareAndSwap(p, &updated)
}
