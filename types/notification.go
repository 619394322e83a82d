package types

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Notification is a domain change observed during a live session, handed to
// the collaborators that own the affected business entities.
type Notification struct {
	Id      string          `json:"id"` // ulid, sorts by creation time
	RoomId  string          `json:"room_id"`
	Event   string          `json:"event"`
	Sender  Identity        `json:"sender"`
	Data    json.RawMessage `json:"data"`
	Created time.Time       `json:"created"`
}

func NewNotification(roomId, event string, sender Identity, data json.RawMessage, created time.Time) *Notification {
	return &Notification{
		Id:      ulid.MustNew(ulid.Timestamp(created), ulid.DefaultEntropy()).String(),
		RoomId:  roomId,
		Event:   event,
		Sender:  sender,
		Data:    data,
		Created: created,
	}
}
