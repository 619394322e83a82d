package ws

import (
	"errors"

	"github.com/tcriess/lightspeed-meeting/presence"
	"github.com/tcriess/lightspeed-meeting/room"
	"github.com/tcriess/lightspeed-meeting/types"
)

var (
	ErrNotLeader    = errors.New("only the leader may send this event")
	ErrUnknownEvent = errors.New("unknown event")
	ErrNotJoined    = errors.New("connection has not joined a room")
	ErrBadRequest   = errors.New("bad request")
)

// errorCode maps an error to the code sent to the client.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotLeader):
		return types.ErrorCodeNotLeader
	case errors.Is(err, presence.ErrSessionEnded), errors.Is(err, room.ErrRoomNotFound):
		return types.ErrorCodeSessionEnded
	case errors.Is(err, room.ErrNotParticipant), errors.Is(err, presence.ErrNotConnected):
		return types.ErrorCodeNotParticipant
	case errors.Is(err, ErrNotJoined):
		return types.ErrorCodeNotJoined
	case errors.Is(err, ErrBadRequest):
		return types.ErrorCodeBadRequest
	case errors.Is(err, ErrUnknownEvent):
		return types.ErrorCodeUnknownEvent
	}
	return types.ErrorCodeInternal
}
