package presence

import "errors"

var (
	// ErrSessionEnded is returned for a resume into a room that no longer
	// exists. Clients must stop reconnecting when they see it.
	ErrSessionEnded = errors.New("session ended")
	ErrNotConnected = errors.New("participant is not connected")
)
