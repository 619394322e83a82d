package room

import "errors"

var (
	ErrRoomNotFound            = errors.New("room not found")
	ErrNotParticipant          = errors.New("not a participant of this room")
	ErrUnknownSuccessionPolicy = errors.New("unknown succession policy")

	// returned by a room that the idle cleanup removed between lookup and lock
	errRoomDeleted = errors.New("room deleted")
)
