package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

var ErrIncompleteRoomKey = errors.New("organization id, team id and meeting kind are required")

// RoomKey identifies a meeting room by organization, team and meeting kind.
type RoomKey struct {
	OrganizationId string
	TeamId         string
	MeetingKind    string
}

// RoomId derives the room id deterministically from the key parts. The
// meeting kind is kept readable as a prefix, the rest is hashed.
func (k RoomKey) RoomId() (string, error) {
	if k.OrganizationId == "" || k.TeamId == "" || k.MeetingKind == "" {
		return "", ErrIncompleteRoomKey
	}
	h, err := hashstructure.Hash(k, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("could not hash room key: %w", err)
	}
	kind := strings.ToLower(strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '-'
	}, k.MeetingKind))
	return fmt.Sprintf("%s-%016x", kind, h), nil
}

type ConnectionState string

const (
	ConnectionStateConnected   ConnectionState = "connected"
	ConnectionStateGracePeriod ConnectionState = "grace_period"
	ConnectionStateDeparted    ConnectionState = "departed"
)

// ParticipantInfo is the wire representation of a room member.
type ParticipantInfo struct {
	Identity
	ConnectionState ConnectionState `json:"connection_state"`
	GraceDeadline   *time.Time      `json:"grace_deadline,omitempty"`
	IsLeader        bool            `json:"is_leader"`
	IsFollowing     bool            `json:"is_following"`
}

// SharedState holds the leader-authored ephemeral fields replicated to
// joiners. Times are unix milliseconds, zero when unset.
type SharedState struct {
	CurrentRoute     string  `json:"current_route"`
	CurrentSection   string  `json:"current_section"`
	ScrollPosition   float64 `json:"scroll_position"`
	SectionStartTime int64   `json:"section_start_time"`
	TimerStartTime   int64   `json:"timer_start_time"`
	TimerPaused      bool    `json:"timer_paused"`
	TimerRemaining   int64   `json:"timer_remaining"`
	NotesBlob        string  `json:"notes_blob"`
}

// RoomSnapshot is an immutable copy of a room, sent as room_joined.
type RoomSnapshot struct {
	RoomId       string            `json:"room_id"`
	LeaderId     string            `json:"leader_id"`
	Participants []ParticipantInfo `json:"participants"`
	SharedState  SharedState       `json:"shared_state"`
}

// Participant returns the member with the given id.
func (s RoomSnapshot) Participant(id string) (ParticipantInfo, bool) {
	for _, p := range s.Participants {
		if p.Id == id {
			return p, true
		}
	}
	return ParticipantInfo{}, false
}
