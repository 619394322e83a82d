package room

import (
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-meeting/types"
)

// SuccessionPolicy decides who leads after the leader departs.
type SuccessionPolicy string

const (
	// SuccessionNone leaves the room leaderless until someone claims.
	SuccessionNone SuccessionPolicy = "none"
	// SuccessionNextJoiner hands leadership to the next participant to join.
	SuccessionNextJoiner SuccessionPolicy = "next_joiner"
	// SuccessionOldest promotes the longest-present connected participant.
	SuccessionOldest SuccessionPolicy = "oldest"
)

func ParseSuccessionPolicy(s string) (SuccessionPolicy, error) {
	switch SuccessionPolicy(s) {
	case "":
		return SuccessionNone, nil
	case SuccessionNone, SuccessionNextJoiner, SuccessionOldest:
		return SuccessionPolicy(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSuccessionPolicy, s)
}

// AddParticipant inserts a new member. The joiner becomes leader when the
// room has none and either the room was empty, the joiner asked for it, or
// the policy hands leadership to the next joiner. The caller must make sure
// identity is not yet a participant.
func (s *State) AddParticipant(identity types.Identity, conn Conn, requestedLeader bool, now time.Time) (*Participant, bool) {
	wasEmpty := len(s.participants) == 0
	p := &Participant{
		Identity:        identity,
		ConnectionState: types.ConnectionStateConnected,
		IsFollowing:     true,
		JoinedAt:        now,
		Conn:            conn,
	}
	s.participants[identity.Id] = p

	granted := false
	if s.LeaderId == "" && (wasEmpty || requestedLeader || s.policy == SuccessionNextJoiner) {
		s.setLeader(identity.Id)
		granted = true
	}
	s.logger.Debug("participant added", "room", s.id, "participant", identity.Id, "leader", granted)
	return p, granted
}

// ClaimLeadership makes id the leader regardless of who led before and
// returns the previous leader's id (possibly empty or equal to id).
func (s *State) ClaimLeadership(id string) (string, error) {
	if _, ok := s.participants[id]; !ok {
		return "", ErrNotParticipant
	}
	previous := s.LeaderId
	s.setLeader(id)
	return previous, nil
}

// RemoveParticipant deletes id from the room. If it was the leader the
// succession policy picks the new leader, which may be empty. The remaining
// participants follow either way.
func (s *State) RemoveParticipant(id string) (p *Participant, wasLeader bool, newLeader string) {
	p, ok := s.participants[id]
	if !ok {
		return nil, false, s.LeaderId
	}
	if p.GraceTimer != nil {
		p.GraceTimer.Stop()
		p.GraceTimer = nil
	}
	p.ConnectionState = types.ConnectionStateDeparted
	p.Conn = nil
	delete(s.participants, id)

	if s.LeaderId != id {
		return p, false, s.LeaderId
	}
	s.LeaderId = ""
	if s.policy == SuccessionOldest {
		for _, candidate := range s.Participants() {
			if candidate.Connected() {
				s.setLeader(candidate.Identity.Id)
				break
			}
		}
	}
	if s.LeaderId == "" {
		// the handoff to nobody makes browsers follow again, like any handoff
		for _, other := range s.participants {
			other.IsFollowing = true
		}
	}
	s.logger.Debug("leader removed", "room", s.id, "participant", id, "new_leader", s.LeaderId)
	return p, true, s.LeaderId
}

// AnnounceLeadership tells every connected participant who leads now.
func (s *State) AnnounceLeadership(previous string) error {
	return s.BroadcastMessage(types.MessageTypeLeadershipChanged, types.LeadershipChangedMessage{
		NewLeaderId:      s.LeaderId,
		PreviousLeaderId: previous,
	}, "")
}

// setLeader is the only place that assigns a non-empty leader. The new
// leader stops following and everybody else follows.
func (s *State) setLeader(id string) {
	s.LeaderId = id
	for pid, p := range s.participants {
		p.IsFollowing = pid != id
	}
}
