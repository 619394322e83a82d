package room

import (
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-meeting/clock"
	"github.com/tcriess/lightspeed-meeting/types"
)

// Conn is the outbound side of a participant's transport connection.
type Conn interface {
	Id() string

	// Send queues data for delivery without blocking. It returns false if
	// the message could not be queued.
	Send(data []byte) bool

	Close() error
}

// Participant is a member of a room. It is only accessed from within a
// room mutation.
type Participant struct {
	Identity        types.Identity
	ConnectionState types.ConnectionState
	GraceDeadline   time.Time
	IsFollowing     bool
	JoinedAt        time.Time

	// Conn is the participant's current connection, nil once departed.
	Conn Conn

	// GraceTimer finalizes the departure when the grace period elapses.
	GraceTimer *clock.Timer

	// Generation is bumped on every disconnect so timers armed for an
	// earlier disconnect can tell they are stale.
	Generation uint64
}

// Connected reports whether the participant currently receives broadcasts.
func (p *Participant) Connected() bool {
	return p.ConnectionState == types.ConnectionStateConnected && p.Conn != nil
}

// State is the authoritative state of one room. Every access happens inside
// Registry.Mutate, which holds the room's lock.
type State struct {
	id           string
	LeaderId     string // empty while the room has no leader
	Shared       types.SharedState
	participants map[string]*Participant
	policy       SuccessionPolicy
	logger       hclog.Logger
}

func newState(id string, policy SuccessionPolicy, logger hclog.Logger) *State {
	return &State{
		id:           id,
		participants: make(map[string]*Participant),
		policy:       policy,
		logger:       logger,
	}
}

func (s *State) Id() string {
	return s.id
}

func (s *State) Policy() SuccessionPolicy {
	return s.policy
}

func (s *State) Len() int {
	return len(s.participants)
}

func (s *State) Participant(id string) (*Participant, bool) {
	p, ok := s.participants[id]
	return p, ok
}

// Participants returns the members ordered by join time.
func (s *State) Participants() []*Participant {
	res := make([]*Participant, 0, len(s.participants))
	for _, p := range s.participants {
		res = append(res, p)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].JoinedAt.Equal(res[j].JoinedAt) {
			return res[i].Identity.Id < res[j].Identity.Id
		}
		return res[i].JoinedAt.Before(res[j].JoinedAt)
	})
	return res
}

// Info returns the wire representation of p.
func (s *State) Info(p *Participant) types.ParticipantInfo {
	info := types.ParticipantInfo{
		Identity:        p.Identity,
		ConnectionState: p.ConnectionState,
		IsLeader:        p.Identity.Id == s.LeaderId,
		IsFollowing:     p.IsFollowing,
	}
	if p.ConnectionState == types.ConnectionStateGracePeriod {
		deadline := p.GraceDeadline
		info.GraceDeadline = &deadline
	}
	return info
}

// Snapshot returns a copy of the room that is safe to use after the
// mutation returns.
func (s *State) Snapshot() types.RoomSnapshot {
	participants := s.Participants()
	infos := make([]types.ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		infos = append(infos, s.Info(p))
	}
	return types.RoomSnapshot{
		RoomId:       s.id,
		LeaderId:     s.LeaderId,
		Participants: infos,
		SharedState:  s.Shared,
	}
}

// SendTo queues data for one connected participant.
func (s *State) SendTo(id string, data []byte) bool {
	p, ok := s.participants[id]
	if !ok || !p.Connected() {
		return false
	}
	return s.deliver(p, data)
}

// Broadcast queues data for every connected participant except the one
// with id except (which may be empty). It returns the number of
// participants the message was queued for.
func (s *State) Broadcast(data []byte, except string) int {
	delivered := 0
	for id, p := range s.participants {
		if id == except || !p.Connected() {
			continue
		}
		if s.deliver(p, data) {
			delivered++
		}
	}
	return delivered
}

// SendMessage encodes payload and queues it for one participant.
func (s *State) SendMessage(id, event string, payload interface{}) error {
	data, err := types.NewWireMessage(event, payload)
	if err != nil {
		return err
	}
	s.SendTo(id, data)
	return nil
}

// BroadcastMessage encodes payload and broadcasts it.
func (s *State) BroadcastMessage(event string, payload interface{}, except string) error {
	data, err := types.NewWireMessage(event, payload)
	if err != nil {
		return err
	}
	s.Broadcast(data, except)
	return nil
}

// deliver drops a connection whose outbound queue is full. The participant
// goes through the regular grace period once its read side notices and
// gets a fresh snapshot when it comes back, so a slow consumer may miss
// messages but never receives them out of order.
func (s *State) deliver(p *Participant, data []byte) bool {
	if p.Conn.Send(data) {
		return true
	}
	s.logger.Warn("outbound queue full, closing connection", "room", s.id, "participant", p.Identity.Id, "conn", p.Conn.Id())
	conn := p.Conn
	go func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("could not close slow connection", "conn", conn.Id(), "error", err)
		}
	}()
	return false
}
