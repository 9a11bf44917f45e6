package simulate

import "time"

// Defaults applied by Run when a Config field is zero.
const (
	DefaultGuests  = 5
	DefaultSongs   = 1
	DefaultTimeout = 10 * time.Second
)

// Health check retry constants.
const (
	healthMaxTries    = 10
	healthInitialWait = 100 * time.Millisecond
	healthMaxWait     = 2 * time.Second
)

// presenceTimeout bounds how long a guest waits for presence to settle.
const presenceTimeout = 5 * time.Second

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)
