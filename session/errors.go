package session

import "errors"

var (
	ErrMalformedRoute = errors.New("malformed route")
	ErrSessionEnded   = errors.New("session ended")
	ErrNotJoined      = errors.New("session has not joined a room")
	ErrLeaderFollows  = errors.New("the leader cannot toggle following")
	ErrNotConnected   = errors.New("not connected")
	ErrSendQueueFull  = errors.New("send queue full")
)
