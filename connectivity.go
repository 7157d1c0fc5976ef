package swoff

import "sync/atomic"

// Connectivity tells whether the host is known to be offline.
// When it is, the engine does not even try the network.
type Connectivity interface {
	Online() bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

// AlwaysOnline never skips the network.
var AlwaysOnline Connectivity = alwaysOnline{}

// OfflineSwitch is a manual connectivity toggle.
// The zero value is online.
type OfflineSwitch struct {
	offline atomic.Bool
}

func (s *OfflineSwitch) Online() bool {
	return !s.offline.Load()
}

func (s *OfflineSwitch) SetOffline(offline bool) {
	s.offline.Store(offline)
}
