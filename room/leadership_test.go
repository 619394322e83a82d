package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-meeting/types"
)

func TestParseSuccessionPolicy(t *testing.T) {
	p, err := ParseSuccessionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SuccessionNone, p)

	p, err = ParseSuccessionPolicy("oldest")
	require.NoError(t, err)
	assert.Equal(t, SuccessionOldest, p)

	_, err = ParseSuccessionPolicy("random")
	assert.ErrorIs(t, err, ErrUnknownSuccessionPolicy)
}

func TestFirstJoinerLeads(t *testing.T) {
	r, _ := newTestRegistry(SuccessionNone)
	_, granted := join(t, r, "r1", "alice", false)
	assert.True(t, granted)
	_, granted = join(t, r, "r1", "bob", false)
	assert.False(t, granted)

	snap, err := r.Snapshot("r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.LeaderId)
	assert.True(t, participant(t, snap, "bob").IsFollowing)
	assertSingleLeader(t, snap)
}

func TestRequestedLeaderDoesNotDisplaceLeader(t *testing.T) {
	r, _ := newTestRegistry(SuccessionNone)
	join(t, r, "r1", "alice", false)
	_, granted := join(t, r, "r1", "bob", true)
	assert.False(t, granted)

	snap, _ := r.Snapshot("r1")
	assert.Equal(t, "alice", snap.LeaderId)
}

func TestClaimLeadershipLastWriterWins(t *testing.T) {
	r, _ := newTestRegistry(SuccessionNone)
	join(t, r, "r1", "alice", false)
	join(t, r, "r1", "bob", false)
	join(t, r, "r1", "carol", false)

	require.NoError(t, r.Mutate("r1", func(s *State) error {
		prev, err := s.ClaimLeadership("bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", prev)
		prev, err = s.ClaimLeadership("carol")
		require.NoError(t, err)
		assert.Equal(t, "bob", prev)
		_, err = s.ClaimLeadership("mallory")
		assert.ErrorIs(t, err, ErrNotParticipant)
		return nil
	}))

	snap, _ := r.Snapshot("r1")
	assert.Equal(t, "carol", snap.LeaderId)
	assert.True(t, participant(t, snap, "alice").IsFollowing)
	assert.True(t, participant(t, snap, "bob").IsFollowing)
	assertSingleLeader(t, snap)
}

func TestLeaderLeavesWithoutSuccession(t *testing.T) {
	r, _ := newTestRegistry(SuccessionNone)
	join(t, r, "r1", "alice", false)
	join(t, r, "r1", "bob", false)

	require.NoError(t, r.Mutate("r1", func(s *State) error {
		p, wasLeader, newLeader := s.RemoveParticipant("alice")
		require.NotNil(t, p)
		assert.Equal(t, types.ConnectionStateDeparted, p.ConnectionState)
		assert.True(t, wasLeader)
		assert.Empty(t, newLeader)
		return nil
	}))
	snap, _ := r.Snapshot("r1")
	assert.Empty(t, snap.LeaderId)
	assert.True(t, participant(t, snap, "bob").IsFollowing)

	// a later joiner does not take over an occupied room under the default policy
	_, granted := join(t, r, "r1", "carol", false)
	assert.False(t, granted)
	_, granted = join(t, r, "r1", "dave", true)
	assert.True(t, granted)
	snap, _ = r.Snapshot("r1")
	assert.Equal(t, "dave", snap.LeaderId)
	assertSingleLeader(t, snap)
}

func TestNextJoinerSuccession(t *testing.T) {
	r, _ := newTestRegistry(SuccessionNextJoiner)
	join(t, r, "r1", "alice", false)
	join(t, r, "r1", "bob", false)
	require.NoError(t, r.Mutate("r1", func(s *State) error {
		s.RemoveParticipant("alice")
		return nil
	}))
	_, granted := join(t, r, "r1", "carol", false)
	assert.True(t, granted)
	snap, _ := r.Snapshot("r1")
	assert.Equal(t, "carol", snap.LeaderId)
	assert.True(t, participant(t, snap, "bob").IsFollowing)
}

func TestOldestSuccessionSkipsDisconnected(t *testing.T) {
	r, fc := newTestRegistry(SuccessionOldest)
	join(t, r, "r1", "alice", false)
	fc.Advance(1)
	join(t, r, "r1", "bob", false)
	fc.Advance(1)
	join(t, r, "r1", "carol", false)

	require.NoError(t, r.Mutate("r1", func(s *State) error {
		bob, _ := s.Participant("bob")
		bob.ConnectionState = types.ConnectionStateGracePeriod
		_, wasLeader, newLeader := s.RemoveParticipant("alice")
		assert.True(t, wasLeader)
		assert.Equal(t, "carol", newLeader)
		return nil
	}))
	snap, _ := r.Snapshot("r1")
	assert.Equal(t, "carol", snap.LeaderId)
	assertSingleLeader(t, snap)
}

func TestRemoveNonLeaderKeepsLeader(t *testing.T) {
	r, _ := newTestRegistry(SuccessionNone)
	join(t, r, "r1", "alice", false)
	join(t, r, "r1", "bob", false)
	require.NoError(t, r.Mutate("r1", func(s *State) error {
		_, wasLeader, newLeader := s.RemoveParticipant("bob")
		assert.False(t, wasLeader)
		assert.Equal(t, "alice", newLeader)
		p, _, _ := s.RemoveParticipant("bob")
		assert.Nil(t, p)
		return nil
	}))
}

func TestAnnounceLeadershipReachesEveryone(t *testing.T) {
	r, _ := newTestRegistry(SuccessionNone)
	alice, _ := join(t, r, "r1", "alice", false)
	bob, _ := join(t, r, "r1", "bob", false)
	require.NoError(t, r.Mutate("r1", func(s *State) error {
		prev, err := s.ClaimLeadership("bob")
		require.NoError(t, err)
		return s.AnnounceLeadership(prev)
	}))
	assert.Equal(t, []string{types.MessageTypeLeadershipChanged}, alice.events())
	assert.Equal(t, []string{types.MessageTypeLeadershipChanged}, bob.events())
}
