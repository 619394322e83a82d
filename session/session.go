// Package session implements the participant side of a live meeting: the
// state machine deciding which inbound navigation is applied locally and
// which local navigation is sent to the room, and a websocket transport
// running it.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-meeting/types"
)

// Location is what a participant currently displays.
type Location struct {
	Route            string
	Section          string
	ScrollPosition   float64
	SectionStartTime int64
}

func (l Location) sameTarget(other Location) bool {
	return l.Route == other.Route && l.Section == other.Section
}

func locationOf(nav types.NavigateMessage) Location {
	return Location{
		Route:            nav.Route,
		Section:          nav.Section,
		ScrollPosition:   nav.ScrollPosition,
		SectionStartTime: nav.SectionStartTime,
	}
}

func (l Location) message() types.NavigateMessage {
	return types.NavigateMessage{
		Route:            l.Route,
		Section:          l.Section,
		ScrollPosition:   l.ScrollPosition,
		SectionStartTime: l.SectionStartTime,
	}
}

// Navigator changes the displayed location. Navigate returns once the new
// location has settled. Location change hooks may call
// Session.LocationChanged from within Navigate.
type Navigator interface {
	Navigate(loc Location) error
}

// Sender queues an outbound message without waiting for delivery.
type Sender interface {
	Send(event string, data interface{}) error
}

// EventFunc receives the room events the session does not handle itself
// (timer and peer events).
type EventFunc func(event, sender string, data json.RawMessage)

// Session is the reconciliation state machine of one participant. Inbound
// messages must be passed to Handle from a single goroutine; the other
// methods may be called from anywhere.
type Session struct {
	identity  types.Identity
	navigator Navigator
	onEvent   EventFunc
	logger    hclog.Logger

	mu           sync.Mutex
	sender       Sender
	state        State
	roomId       string
	leaderId     string
	location     Location
	navDepth     int // navigations in progress, the lock is held while > 0
	claimPending bool
	participants map[string]types.ParticipantInfo
	shared       types.SharedState
}

type Option func(*Session)

func WithEventFunc(f EventFunc) Option {
	return func(s *Session) {
		s.onEvent = f
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithLocation sets the location displayed before the first navigation.
func WithLocation(loc Location) Option {
	return func(s *Session) {
		s.location = loc
	}
}

func NewSession(identity types.Identity, navigator Navigator, sender Sender, opts ...Option) *Session {
	s := &Session{
		identity:     identity,
		navigator:    navigator,
		sender:       sender,
		state:        Detached,
		participants: make(map[string]types.ParticipantInfo),
		logger:       hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Identity() types.Identity {
	return s.identity
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) IsLeader() bool {
	return s.State().IsLeader()
}

func (s *Session) IsFollowing() bool {
	return s.State().IsFollowing()
}

// ClaimPending reports whether a leadership claim has not been answered yet.
func (s *Session) ClaimPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimPending
}

func (s *Session) RoomId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomId
}

func (s *Session) LeaderId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderId
}

func (s *Session) Location() Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *Session) SharedState() types.SharedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared
}

// Participants returns the local copy of the roster.
func (s *Session) Participants() map[string]types.ParticipantInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]types.ParticipantInfo, len(s.participants))
	for id, p := range s.participants {
		res[id] = p
	}
	return res
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.logger.Debug("state change", "participant", s.identity.Id, "from", s.state, "to", state)
	s.state = state
}

// JoinMessage returns the join_room request for roomId.
func (s *Session) JoinMessage(roomId string, requestedLeader, resume bool) types.JoinRoomMessage {
	identity := s.identity
	return types.JoinRoomMessage{
		RoomId:          roomId,
		Participant:     &identity,
		RequestedLeader: requestedLeader,
		Resume:          resume,
	}
}

// Join asks the server to add this participant to roomId. The session
// stays Detached until the room snapshot arrives.
func (s *Session) Join(roomId string, requestedLeader, resume bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Ended {
		return ErrSessionEnded
	}
	return s.sender.Send(types.MessageTypeJoinRoom, s.JoinMessage(roomId, requestedLeader, resume))
}

// Leave leaves the room.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.InRoom() {
		return ErrNotJoined
	}
	s.setState(Detached)
	s.roomId = ""
	s.leaderId = ""
	s.claimPending = false
	s.participants = make(map[string]types.ParticipantInfo)
	return s.sender.Send(types.MessageTypeLeaveRoom, struct{}{})
}

// ClaimLeadership asks to become leader. The session only becomes Leading
// once the server announces it.
func (s *Session) ClaimLeadership() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInRoom(); err != nil {
		return err
	}
	s.claimPending = true
	return s.sender.Send(types.MessageTypeClaimLeadership, struct{}{})
}

// SetFollowing switches between following the leader and browsing on one's
// own. Following again does not replay missed navigation, the current room
// state is requested instead and applied when it arrives.
func (s *Session) SetFollowing(following bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInRoom(); err != nil {
		return err
	}
	if s.state == Leading {
		return ErrLeaderFollows
	}
	if following {
		s.setState(Following)
	} else {
		s.setState(Browsing)
	}
	if err := s.sender.Send(types.MessageTypeToggleFollow, types.ToggleFollowMessage{IsFollowing: following}); err != nil {
		return err
	}
	if following {
		return s.sender.Send(types.MessageTypeRequestSnapshot, struct{}{})
	}
	return nil
}

// Publish sends a timer or peer event to the room.
func (s *Session) Publish(event string, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInRoom(); err != nil {
		return err
	}
	return s.sender.Send(event, data)
}

func (s *Session) checkInRoom() error {
	switch {
	case s.state == Ended:
		return ErrSessionEnded
	case !s.state.InRoom():
		return ErrNotJoined
	}
	return nil
}

// Navigate changes the local location on behalf of the user. The leader's
// navigation is sent to the room once the location has settled. Navigations
// may overlap; only the one that leaves no other navigation in progress
// emits.
func (s *Session) Navigate(loc Location) error {
	if err := ValidateRoute(loc.Route); err != nil {
		return err
	}
	s.mu.Lock()
	s.navDepth++
	s.mu.Unlock()
	return s.navigate(loc, true)
}

// LocationChanged is the hook for location changes the session did not
// initiate. Changes reported while a navigation is in progress are part of
// that navigation and ignored.
func (s *Session) LocationChanged(loc Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navDepth > 0 {
		return nil
	}
	s.location = loc
	return s.emitLocked()
}

func (s *Session) emitLocked() error {
	if s.state != Leading || s.navDepth > 0 {
		return nil
	}
	return s.sender.Send(types.MessageTypeNavigate, s.location.message())
}

// navigate runs the navigator. The caller has taken the navigation lock by
// incrementing navDepth, navigate releases it.
func (s *Session) navigate(loc Location, emit bool) error {
	err := s.navigator.Navigate(loc)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.navDepth--
	if err != nil {
		return fmt.Errorf("could not navigate to %s: %w", loc.Route, err)
	}
	s.location = loc
	if emit {
		return s.emitLocked()
	}
	return nil
}

// Handle is the single dispatcher for inbound messages.
func (s *Session) Handle(message *types.WebsocketMessage) error {
	if s.State() == Ended {
		return ErrSessionEnded
	}
	switch message.Event {
	case types.MessageTypeRoomJoined:
		snap := types.RoomSnapshot{}
		if err := json.Unmarshal(message.Data, &snap); err != nil {
			return err
		}
		return s.handleSnapshot(snap)

	case types.MessageTypeNavigationUpdate:
		nav := types.NavigateMessage{}
		if err := json.Unmarshal(message.Data, &nav); err != nil {
			return err
		}
		return s.applyInbound(locationOf(nav))

	case types.MessageTypeLeadershipChanged:
		changed := types.LeadershipChangedMessage{}
		if err := json.Unmarshal(message.Data, &changed); err != nil {
			return err
		}
		s.handleLeadershipChanged(changed)
		return nil

	case types.MessageTypeParticipantJoined, types.MessageTypeParticipantReconnected:
		msg := types.ParticipantMessage{}
		if err := json.Unmarshal(message.Data, &msg); err != nil {
			return err
		}
		s.updateParticipant(msg.Participant)
		return nil

	case types.MessageTypeParticipantDisconnectedTemporarily:
		msg := types.ParticipantDisconnectedMessage{}
		if err := json.Unmarshal(message.Data, &msg); err != nil {
			return err
		}
		s.updateParticipant(msg.Participant)
		return nil

	case types.MessageTypeParticipantLeft:
		msg := types.ParticipantMessage{}
		if err := json.Unmarshal(message.Data, &msg); err != nil {
			return err
		}
		s.mu.Lock()
		delete(s.participants, msg.Participant.Id)
		s.mu.Unlock()
		return nil

	case types.MessageTypeError:
		errMsg := types.ErrorMessage{}
		if err := json.Unmarshal(message.Data, &errMsg); err != nil {
			return err
		}
		return s.handleError(errMsg)
	}

	if message.Event == types.MessageTypeTimerSync {
		timer := types.TimerSyncMessage{}
		if err := json.Unmarshal(message.Data, &timer); err == nil {
			s.mu.Lock()
			s.shared.TimerStartTime = timer.TimerStartTime
			s.shared.TimerPaused = timer.TimerPaused
			s.shared.TimerRemaining = timer.TimerRemaining
			s.mu.Unlock()
		}
	}
	if s.onEvent != nil {
		s.onEvent(message.Event, message.Sender, message.Data)
	}
	return nil
}

func (s *Session) updateParticipant(info types.ParticipantInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[info.Id] = info
}

func (s *Session) handleSnapshot(snap types.RoomSnapshot) error {
	s.mu.Lock()
	s.roomId = snap.RoomId
	s.leaderId = snap.LeaderId
	s.shared = snap.SharedState
	s.participants = make(map[string]types.ParticipantInfo, len(snap.Participants))
	for _, p := range snap.Participants {
		s.participants[p.Id] = p
	}
	switch {
	case snap.LeaderId == s.identity.Id:
		s.setState(Leading)
		s.claimPending = false
	case s.state == Browsing:
		// a resync while browsing keeps browsing
	default:
		s.setState(Following)
	}
	following := s.state == Following
	s.mu.Unlock()

	if following && snap.SharedState.CurrentRoute != "" {
		return s.applyInbound(Location{
			Route:            snap.SharedState.CurrentRoute,
			Section:          snap.SharedState.CurrentSection,
			ScrollPosition:   snap.SharedState.ScrollPosition,
			SectionStartTime: snap.SharedState.SectionStartTime,
		})
	}
	return nil
}

// applyInbound applies navigation of the leader if this participant follows,
// no navigation is in progress and the target differs from the current
// location. The decision and taking the lock happen under one critical
// section.
func (s *Session) applyInbound(loc Location) error {
	s.mu.Lock()
	if s.state != Following || s.navDepth > 0 || s.location.sameTarget(loc) {
		s.mu.Unlock()
		return nil
	}
	if err := ValidateRoute(loc.Route); err != nil {
		s.mu.Unlock()
		s.logger.Warn("ignoring navigation to malformed route", "route", loc.Route, "error", err)
		return err
	}
	s.navDepth++
	s.mu.Unlock()
	return s.navigate(loc, false)
}

func (s *Session) handleLeadershipChanged(changed types.LeadershipChangedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderId = changed.NewLeaderId
	s.claimPending = false
	for id, p := range s.participants {
		p.IsLeader = id == changed.NewLeaderId
		p.IsFollowing = !p.IsLeader
		s.participants[id] = p
	}
	if !s.state.InRoom() {
		return
	}
	if changed.NewLeaderId == s.identity.Id {
		s.setState(Leading)
		return
	}
	// everybody else follows, including the former leader and browsers
	s.setState(Following)
}

func (s *Session) handleError(errMsg types.ErrorMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch errMsg.Code {
	case types.ErrorCodeNotLeader:
		s.logger.Info("server rejected leader event", "event", errMsg.Event)
		if s.state == Leading || s.state == Browsing {
			s.setState(Following)
		}
		if s.leaderId == s.identity.Id {
			s.leaderId = ""
		}
		return s.sender.Send(types.MessageTypeRequestSnapshot, struct{}{})

	case types.ErrorCodeSessionEnded:
		s.logger.Info("session ended by server")
		s.setState(Ended)
		s.claimPending = false
		return nil
	}
	s.logger.Warn("server error", "code", errMsg.Code, "message", errMsg.Message, "event", errMsg.Event)
	return nil
}
