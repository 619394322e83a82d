package ws

import "github.com/tcriess/lightspeed-meeting/types"

// leaderEvents maps the leader-only events to the event they are relayed as.
var leaderEvents = map[string]string{
	types.MessageTypeNavigate:  types.MessageTypeNavigationUpdate,
	types.MessageTypeTimerSync: types.MessageTypeTimerSync,
}

// peerEvents may be sent by every participant. They are relayed unchanged
// and handed to the notifier.
var peerEvents = map[string]struct{}{
	types.MessageTypeVoteUpdate:        {},
	types.MessageTypeTodoUpdate:        {},
	types.MessageTypeIssueStatusUpdate: {},
	types.MessageTypeNotesUpdate:       {},
	types.MessageTypeRating:            {},
}

func IsLeaderEvent(event string) bool {
	_, ok := leaderEvents[event]
	return ok
}

func IsPeerEvent(event string) bool {
	_, ok := peerEvents[event]
	return ok
}
