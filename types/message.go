package types

import (
	"encoding/json"
)

// Client to server message types.
const (
	MessageTypeJoinRoom        = "join_room"
	MessageTypeClaimLeadership = "claim_leadership"
	MessageTypeNavigate        = "navigate"
	MessageTypeToggleFollow    = "toggle_follow"
	MessageTypeRequestSnapshot = "request_snapshot"
	MessageTypeLeaveRoom       = "leave_room"
)

// Server to client message types.
const (
	MessageTypeRoomJoined                         = "room_joined"
	MessageTypeParticipantJoined                  = "participant_joined"
	MessageTypeParticipantLeft                    = "participant_left"
	MessageTypeParticipantDisconnectedTemporarily = "participant_disconnected_temporarily"
	MessageTypeParticipantReconnected             = "participant_reconnected"
	MessageTypeLeadershipChanged                  = "leadership_changed"
	MessageTypeNavigationUpdate                   = "navigation_update"
	MessageTypeError                              = "error"
)

// Relayed message types, sent by a client and forwarded to the rest of the
// room under the same name. Timer sync is leader-gated, the others are peer
// events anybody in the room may send.
const (
	MessageTypeTimerSync         = "timer_sync"
	MessageTypeVoteUpdate        = "vote_update"
	MessageTypeTodoUpdate        = "todo_update"
	MessageTypeIssueStatusUpdate = "issue_status_update"
	MessageTypeNotesUpdate       = "notes_update"
	MessageTypeRating            = "rating"
)

// Error codes carried by MessageTypeError.
const (
	ErrorCodeNotLeader      = "not_leader"
	ErrorCodeSessionEnded   = "session_ended"
	ErrorCodeNotParticipant = "not_participant"
	ErrorCodeNotJoined      = "not_joined"
	ErrorCodeBadRequest     = "bad_request"
	ErrorCodeUnknownEvent   = "unknown_event"
	ErrorCodeInternal       = "internal"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event  string          `json:"event"`
	Sender string          `json:"sender,omitempty"` // set by the server on relayed messages
	Data   json.RawMessage `json:"data"`
}

// The different types of messages transferred from the client to here.

// JoinRoomMessage registers the connection's identity in a room. The room is
// given either directly as RoomId or as its key parts.
type JoinRoomMessage struct {
	RoomId          string    `json:"room_id,omitempty" mapstructure:"room_id"`
	OrganizationId  string    `json:"organization_id,omitempty" mapstructure:"organization_id"`
	TeamId          string    `json:"team_id,omitempty" mapstructure:"team_id"`
	MeetingKind     string    `json:"meeting_kind,omitempty" mapstructure:"meeting_kind"`
	Participant     *Identity `json:"participant,omitempty" mapstructure:"participant"`
	RequestedLeader bool      `json:"requested_leader" mapstructure:"requested_leader"`
	Resume          bool      `json:"resume" mapstructure:"resume"` // reconnect of an earlier session
}

// ResolveRoomId returns RoomId or derives it from the key parts.
func (m JoinRoomMessage) ResolveRoomId() (string, error) {
	if m.RoomId != "" {
		return m.RoomId, nil
	}
	return RoomKey{
		OrganizationId: m.OrganizationId,
		TeamId:         m.TeamId,
		MeetingKind:    m.MeetingKind,
	}.RoomId()
}

// NavigateMessage is sent by the leader; it is relayed as navigation_update.
type NavigateMessage struct {
	Route            string  `json:"route" mapstructure:"route"`
	Section          string  `json:"section" mapstructure:"section"`
	ScrollPosition   float64 `json:"scroll_position" mapstructure:"scroll_position"`
	SectionStartTime int64   `json:"section_start_time" mapstructure:"section_start_time"`
}

type ToggleFollowMessage struct {
	IsFollowing bool `json:"is_following" mapstructure:"is_following"`
}

// TimerSyncMessage carries the leader's meeting timer.
type TimerSyncMessage struct {
	TimerStartTime int64 `json:"timer_start_time" mapstructure:"timer_start_time"`
	TimerPaused    bool  `json:"timer_paused" mapstructure:"timer_paused"`
	TimerRemaining int64 `json:"timer_remaining" mapstructure:"timer_remaining"`
}

// NotesUpdateMessage is the part of a notes_update the server keeps as
// shared state. The full payload is relayed untouched.
type NotesUpdateMessage struct {
	Notes string `json:"notes" mapstructure:"notes"`
}

// The different types of messages sent from here to the clients.

type ParticipantMessage struct {
	Participant ParticipantInfo `json:"participant"`
}

type ParticipantDisconnectedMessage struct {
	Participant  ParticipantInfo `json:"participant"`
	GraceSeconds int             `json:"grace_seconds"`
}

// LeadershipChangedMessage is delivered to every participant, including the
// new and the former leader. An empty NewLeaderId means the room has no
// leader.
type LeadershipChangedMessage struct {
	NewLeaderId      string `json:"new_leader_id"`
	PreviousLeaderId string `json:"previous_leader_id"`
}

type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"` // the message type that caused the error
}
