package session

// State is the local view of the participant's role in the room.
type State string

const (
	// Detached: not in a room, or waiting for the room snapshot.
	Detached State = "detached"
	// Leading: this participant is the leader and emits navigation.
	Leading State = "leading"
	// Following: navigation of the leader is applied locally.
	Following State = "following"
	// Browsing: a participant that chose not to follow the leader.
	Browsing State = "browsing"
	// Ended: the server ended the session, nothing is sent or applied any more.
	Ended State = "ended"
)

func (s State) IsLeader() bool {
	return s == Leading
}

func (s State) IsFollowing() bool {
	return s == Following
}

func (s State) InRoom() bool {
	return s == Leading || s == Following || s == Browsing
}
