// Package presence tracks who is in a room and whether they are connected.
// Disconnects are not departures: a participant whose connection drops is
// kept for a grace period and can resume without losing their place, their
// follow state or their leadership.
package presence

import (
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-meeting/clock"
	"github.com/tcriess/lightspeed-meeting/room"
	"github.com/tcriess/lightspeed-meeting/types"
)

const DefaultGracePeriod = 30 * time.Second

type Outcome string

const (
	OutcomeJoined      Outcome = "joined"
	OutcomeReconnected Outcome = "reconnected"
	OutcomeSuperseded  Outcome = "superseded"
)

type JoinRequest struct {
	RoomId          string
	Identity        types.Identity
	Conn            room.Conn
	RequestedLeader bool
	Resume          bool
}

type JoinResult struct {
	Outcome  Outcome
	Leader   bool // the joiner leads the room after the join
	Snapshot types.RoomSnapshot
}

type Manager struct {
	registry    *room.Registry
	clock       clock.Clock
	gracePeriod time.Duration
	logger      hclog.Logger
}

// NewManager returns a Manager working on the rooms of registry and using
// its clock. A non-positive gracePeriod means DefaultGracePeriod.
func NewManager(registry *room.Registry, gracePeriod time.Duration, logger hclog.Logger) *Manager {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Manager{
		registry:    registry,
		clock:       registry.Clock(),
		gracePeriod: gracePeriod,
		logger:      logger,
	}
}

func (m *Manager) GracePeriod() time.Duration {
	return m.gracePeriod
}

// Join adds the requesting connection to the room. Depending on what the
// room knows about the identity this is a fresh join, a reconnect from the
// grace period or a second connection that replaces the first one.
func (m *Manager) Join(req JoinRequest) (JoinResult, error) {
	result := JoinResult{}
	fn := func(s *room.State) error {
		id := req.Identity.Id
		p, ok := s.Participant(id)
		switch {
		case !ok:
			previous := s.LeaderId
			var granted bool
			p, granted = s.AddParticipant(req.Identity, req.Conn, req.RequestedLeader, m.clock.Now())
			result.Outcome = OutcomeJoined
			if err := s.BroadcastMessage(types.MessageTypeParticipantJoined, types.ParticipantMessage{Participant: s.Info(p)}, id); err != nil {
				return err
			}
			if granted && s.Len() > 1 {
				if err := s.AnnounceLeadership(previous); err != nil {
					return err
				}
			}
		case p.ConnectionState == types.ConnectionStateGracePeriod:
			p.GraceTimer.Stop()
			p.GraceTimer = nil
			p.Generation++
			p.ConnectionState = types.ConnectionStateConnected
			p.GraceDeadline = time.Time{}
			p.Identity = req.Identity
			p.Conn = req.Conn
			result.Outcome = OutcomeReconnected
			if err := s.BroadcastMessage(types.MessageTypeParticipantReconnected, types.ParticipantMessage{Participant: s.Info(p)}, id); err != nil {
				return err
			}
		default:
			old := p.Conn
			p.Identity = req.Identity
			p.Conn = req.Conn
			result.Outcome = OutcomeSuperseded
			if old != nil && old != req.Conn {
				go func() {
					if err := old.Close(); err != nil {
						m.logger.Debug("could not close superseded connection", "conn", old.Id(), "error", err)
					}
				}()
			}
		}
		result.Leader = s.LeaderId == id
		result.Snapshot = s.Snapshot()
		return s.SendMessage(id, types.MessageTypeRoomJoined, result.Snapshot)
	}

	var err error
	if req.Resume {
		err = m.registry.Mutate(req.RoomId, fn)
		if errors.Is(err, room.ErrRoomNotFound) {
			m.logger.Info("resume into ended session", "room", req.RoomId, "participant", req.Identity.Id)
			return result, ErrSessionEnded
		}
	} else {
		err = m.registry.MutateOrCreate(req.RoomId, fn)
	}
	if err != nil {
		return result, err
	}
	m.logger.Info("participant joined", "room", req.RoomId, "participant", req.Identity.Id, "outcome", result.Outcome, "leader", result.Leader)
	return result, nil
}

// Disconnect starts the grace period for the participant using conn. It is
// a no-op if conn is not the participant's current connection, which is the
// case for connections that were superseded by a newer one.
func (m *Manager) Disconnect(roomId, identityId string, conn room.Conn) {
	err := m.registry.Mutate(roomId, func(s *room.State) error {
		p, ok := s.Participant(identityId)
		if !ok || p.Conn != conn || p.ConnectionState != types.ConnectionStateConnected {
			return nil
		}
		p.ConnectionState = types.ConnectionStateGracePeriod
		p.Conn = nil
		p.GraceDeadline = m.clock.Now().Add(m.gracePeriod)
		p.Generation++
		generation := p.Generation
		p.GraceTimer = m.clock.AfterFunc(m.gracePeriod, func() {
			m.expire(roomId, identityId, generation)
		})
		m.logger.Info("participant disconnected", "room", roomId, "participant", identityId, "deadline", p.GraceDeadline)
		return s.BroadcastMessage(types.MessageTypeParticipantDisconnectedTemporarily, types.ParticipantDisconnectedMessage{
			Participant:  s.Info(p),
			GraceSeconds: int(m.gracePeriod / time.Second),
		}, identityId)
	})
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		m.logger.Error("could not start grace period", "room", roomId, "participant", identityId, "error", err)
	}
}

func (m *Manager) expire(roomId, identityId string, generation uint64) {
	err := m.registry.Mutate(roomId, func(s *room.State) error {
		p, ok := s.Participant(identityId)
		if !ok || p.Generation != generation || p.ConnectionState != types.ConnectionStateGracePeriod {
			return nil
		}
		m.logger.Info("grace period expired", "room", roomId, "participant", identityId)
		return m.depart(s, identityId)
	})
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		m.logger.Error("could not finalize departure", "room", roomId, "participant", identityId, "error", err)
	}
}

// Leave removes the participant right away, also during its grace period.
// Leaving a room one is not part of is not an error. If conn is set, only
// that connection may leave; a superseded connection leaves nothing.
func (m *Manager) Leave(roomId, identityId string, conn room.Conn) error {
	err := m.registry.Mutate(roomId, func(s *room.State) error {
		if _, err := participantOf(s, identityId, conn); err != nil {
			return nil
		}
		m.logger.Info("participant left", "room", roomId, "participant", identityId)
		return m.depart(s, identityId)
	})
	if errors.Is(err, room.ErrRoomNotFound) {
		return nil
	}
	return err
}

// participantOf returns the participant identityId. If conn is set it must
// be the participant's current connection.
func participantOf(s *room.State, identityId string, conn room.Conn) (*room.Participant, error) {
	p, ok := s.Participant(identityId)
	if !ok || (conn != nil && p.Conn != conn) {
		return nil, room.ErrNotParticipant
	}
	return p, nil
}

func (m *Manager) depart(s *room.State, identityId string) error {
	p, wasLeader, _ := s.RemoveParticipant(identityId)
	info := types.ParticipantInfo{
		Identity:        p.Identity,
		ConnectionState: types.ConnectionStateDeparted,
		IsLeader:        wasLeader,
	}
	if err := s.BroadcastMessage(types.MessageTypeParticipantLeft, types.ParticipantMessage{Participant: info}, identityId); err != nil {
		return err
	}
	if wasLeader {
		return s.AnnounceLeadership(identityId)
	}
	return nil
}

// Resync sends the current room snapshot to the participant again.
func (m *Manager) Resync(roomId, identityId string, conn room.Conn) error {
	return m.registry.Mutate(roomId, func(s *room.State) error {
		p, err := participantOf(s, identityId, conn)
		if err != nil {
			return err
		}
		if !p.Connected() {
			return ErrNotConnected
		}
		return s.SendMessage(identityId, types.MessageTypeRoomJoined, s.Snapshot())
	})
}

// SetFollowing records whether the participant follows the leader. The
// leader itself never follows. Nobody is notified.
func (m *Manager) SetFollowing(roomId, identityId string, conn room.Conn, following bool) error {
	return m.registry.Mutate(roomId, func(s *room.State) error {
		p, err := participantOf(s, identityId, conn)
		if err != nil {
			return err
		}
		p.IsFollowing = following && s.LeaderId != identityId
		return nil
	})
}
