package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomKeyRoomId(t *testing.T) {
	key := RoomKey{OrganizationId: "org-1", TeamId: "team-7", MeetingKind: "Weekly L10"}
	id, err := key.RoomId()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "weekly-l10-"), id)

	again, err := key.RoomId()
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := RoomKey{OrganizationId: "org-1", TeamId: "team-8", MeetingKind: "Weekly L10"}.RoomId()
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	_, err = RoomKey{OrganizationId: "org-1", MeetingKind: "weekly"}.RoomId()
	assert.ErrorIs(t, err, ErrIncompleteRoomKey)
}

func TestJoinRoomMessageResolveRoomId(t *testing.T) {
	id, err := JoinRoomMessage{RoomId: "explicit"}.ResolveRoomId()
	require.NoError(t, err)
	assert.Equal(t, "explicit", id)

	derived, err := JoinRoomMessage{OrganizationId: "o", TeamId: "t", MeetingKind: "k"}.ResolveRoomId()
	require.NoError(t, err)
	expected, _ := RoomKey{OrganizationId: "o", TeamId: "t", MeetingKind: "k"}.RoomId()
	assert.Equal(t, expected, derived)
}

func TestDecodeDataIsWeaklyTyped(t *testing.T) {
	msg := JoinRoomMessage{}
	err := DecodeData(json.RawMessage(`{"room_id":"r1","requested_leader":"true","resume":1,"participant":{"id":"u1","name":"Ann"}}`), &msg)
	require.NoError(t, err)
	assert.Equal(t, "r1", msg.RoomId)
	assert.True(t, msg.RequestedLeader)
	assert.True(t, msg.Resume)
	require.NotNil(t, msg.Participant)
	assert.Equal(t, "u1", msg.Participant.Id)

	nav := NavigateMessage{}
	require.NoError(t, DecodeData(nil, &nav))
	assert.Equal(t, NavigateMessage{}, nav)

	assert.Error(t, DecodeData(json.RawMessage(`[1,2]`), &nav))
}

func TestWireMessages(t *testing.T) {
	raw, err := NewWireMessage(MessageTypeLeadershipChanged, LeadershipChangedMessage{NewLeaderId: "a", PreviousLeaderId: "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"leadership_changed","data":{"new_leader_id":"a","previous_leader_id":"b"}}`, string(raw))

	relayed, err := NewRelayedWireMessage(MessageTypeVoteUpdate, "u1", json.RawMessage(`{"issue":3,"vote":"up"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"vote_update","sender":"u1","data":{"issue":3,"vote":"up"}}`, string(relayed))

	empty, err := NewRelayedWireMessage(MessageTypeRating, "u2", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"rating","sender":"u2","data":{}}`, string(empty))
}

func TestParticipantInfoFlattensIdentity(t *testing.T) {
	raw, err := json.Marshal(ParticipantInfo{
		Identity:        Identity{Id: "u1", Name: "Ann"},
		ConnectionState: ConnectionStateConnected,
		IsFollowing:     true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1","name":"Ann","connection_state":"connected","is_leader":false,"is_following":true}`, string(raw))

	snapshot := RoomSnapshot{Participants: []ParticipantInfo{{Identity: Identity{Id: "u1"}}}}
	_, ok := snapshot.Participant("u1")
	assert.True(t, ok)
	_, ok = snapshot.Participant("u2")
	assert.False(t, ok)
}

func TestNewNotificationIdsSortByCreation(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := NewNotification("r", MessageTypeTodoUpdate, Identity{Id: "u"}, nil, base)
	second := NewNotification("r", MessageTypeTodoUpdate, Identity{Id: "u"}, nil, base.Add(time.Second))
	assert.Less(t, first.Id, second.Id)
	assert.Equal(t, "r", first.RoomId)
}
