package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/filter"
	"github.com/tcriess/lightspeed-meeting/persistence"
	"github.com/tcriess/lightspeed-meeting/presence"
	"github.com/tcriess/lightspeed-meeting/room"
	"github.com/tcriess/lightspeed-meeting/types"
)

const (
	maxMessageSize          = 64 * 1024
	pongWait                = 2 * time.Minute
	pingPeriod              = time.Minute
	writeWait               = 10 * time.Second
	notifyTimeout           = 5 * time.Second
	notificationChannelSize = 1000
	defaultSendChannelSize  = 256
)

// Hub routes the messages of all rooms. Ordering is per room: every change
// of a room and the fan-out it causes happen inside one room mutation.
type Hub struct {
	registry *room.Registry
	presence *presence.Manager

	notifier      persistence.Notifier
	filter        *filter.Filter
	notifications chan *types.Notification

	// global configuration
	Cfg *config.Config

	logger hclog.Logger
}

// NewHub wires the hub to the room registry and the presence manager.
// notifier may be nil.
func NewHub(cfg *config.Config, registry *room.Registry, presenceManager *presence.Manager, notifier persistence.Notifier, logger hclog.Logger) (*Hub, error) {
	f, err := filter.Compile(cfg.NotificationConfig.Filter)
	if err != nil {
		return nil, err
	}
	return &Hub{
		registry:      registry,
		presence:      presenceManager,
		notifier:      notifier,
		filter:        f,
		notifications: make(chan *types.Notification, notificationChannelSize),
		Cfg:           cfg,
		logger:        logger,
	}, nil
}

func (h *Hub) Registry() *room.Registry {
	return h.registry
}

// Publish relays a room event of senderId to the other connected
// participants. Leader events from anybody but the leader fail with
// ErrNotLeader.
func (h *Hub) Publish(roomId, senderId, event string, data json.RawMessage) error {
	return h.publish(roomId, senderId, nil, event, data)
}

// publish checks, when conn is set, that it is the sender's current
// connection; a superseded connection must not speak for the participant.
func (h *Hub) publish(roomId, senderId string, conn room.Conn, event string, data json.RawMessage) error {
	relayed := event
	return h.registry.Mutate(roomId, func(s *room.State) error {
		p, ok := s.Participant(senderId)
		if !ok || (conn != nil && p.Conn != conn) {
			return room.ErrNotParticipant
		}
		if to, ok := leaderEvents[event]; ok {
			if s.LeaderId != senderId {
				return ErrNotLeader
			}
			relayed = to
		} else if !IsPeerEvent(event) {
			return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
		}
		if err := applySharedState(&s.Shared, event, data); err != nil {
			return err
		}

		msg, err := types.NewRelayedWireMessage(relayed, senderId, data)
		if err != nil {
			return err
		}
		s.Broadcast(msg, senderId)

		if IsPeerEvent(event) {
			h.enqueueNotification(s, p.Identity, event, data)
		}
		return nil
	})
}

// applySharedState keeps the part of an event that late joiners need.
func applySharedState(shared *types.SharedState, event string, data json.RawMessage) error {
	switch event {
	case types.MessageTypeNavigate:
		nav := types.NavigateMessage{}
		if err := types.DecodeData(data, &nav); err != nil {
			return fmt.Errorf("%w: %s", ErrBadRequest, err)
		}
		shared.CurrentRoute = nav.Route
		shared.CurrentSection = nav.Section
		shared.ScrollPosition = nav.ScrollPosition
		shared.SectionStartTime = nav.SectionStartTime

	case types.MessageTypeTimerSync:
		timer := types.TimerSyncMessage{}
		if err := types.DecodeData(data, &timer); err != nil {
			return fmt.Errorf("%w: %s", ErrBadRequest, err)
		}
		shared.TimerStartTime = timer.TimerStartTime
		shared.TimerPaused = timer.TimerPaused
		shared.TimerRemaining = timer.TimerRemaining

	case types.MessageTypeNotesUpdate:
		notes := types.NotesUpdateMessage{}
		if err := types.DecodeData(data, &notes); err != nil {
			return fmt.Errorf("%w: %s", ErrBadRequest, err)
		}
		shared.NotesBlob = notes.Notes
	}
	return nil
}

// enqueueNotification runs inside the room mutation and must not block.
func (h *Hub) enqueueNotification(s *room.State, sender types.Identity, event string, data json.RawMessage) {
	if h.notifier == nil {
		return
	}
	n := types.NewNotification(s.Id(), event, sender, data, h.registry.Clock().Now().UTC())
	if !h.filter.Match(filter.NotificationEnv(n, s.LeaderId, s.Len())) {
		return
	}
	select {
	case h.notifications <- n:
	default:
		h.logger.Warn("notification queue full, dropping notification", "room", n.RoomId, "event", event)
	}
}

// ClaimLeadership makes senderId the leader and tells everybody, also when
// senderId already was the leader.
func (h *Hub) ClaimLeadership(roomId, senderId string) error {
	return h.claimLeadership(roomId, senderId, nil)
}

func (h *Hub) claimLeadership(roomId, senderId string, conn room.Conn) error {
	return h.registry.Mutate(roomId, func(s *room.State) error {
		if p, ok := s.Participant(senderId); ok && conn != nil && p.Conn != conn {
			return room.ErrNotParticipant
		}
		previous, err := s.ClaimLeadership(senderId)
		if err != nil {
			return err
		}
		h.logger.Info("leadership claimed", "room", roomId, "participant", senderId, "previous", previous)
		return s.AnnounceLeadership(previous)
	})
}

// Dispatch handles one inbound message of c. Failures are reported back to
// c as error messages.
func (h *Hub) Dispatch(c *Client, message *types.WebsocketMessage) {
	err := h.dispatch(c, message)
	if err == nil {
		return
	}
	code := errorCode(err)
	if code == types.ErrorCodeInternal {
		h.logger.Error("could not handle message", "event", message.Event, "room", c.roomId, "participant", c.identity.Id, "error", err)
	} else {
		h.logger.Debug("rejected message", "event", message.Event, "room", c.roomId, "participant", c.identity.Id, "code", code, "error", err)
	}
	c.sendError(code, err.Error(), message.Event)
}

func (h *Hub) dispatch(c *Client, message *types.WebsocketMessage) error {
	if message.Event == types.MessageTypeJoinRoom {
		return h.join(c, message.Data)
	}
	if c.roomId == "" {
		if message.Event == types.MessageTypeLeaveRoom {
			return nil
		}
		return ErrNotJoined
	}

	switch message.Event {
	case types.MessageTypeLeaveRoom:
		roomId := c.roomId
		c.roomId = ""
		return h.presence.Leave(roomId, c.identity.Id, c)

	case types.MessageTypeClaimLeadership:
		return h.claimLeadership(c.roomId, c.identity.Id, c)

	case types.MessageTypeToggleFollow:
		toggle := types.ToggleFollowMessage{}
		if err := types.DecodeData(message.Data, &toggle); err != nil {
			return fmt.Errorf("%w: %s", ErrBadRequest, err)
		}
		return h.presence.SetFollowing(c.roomId, c.identity.Id, c, toggle.IsFollowing)

	case types.MessageTypeRequestSnapshot:
		return h.presence.Resync(c.roomId, c.identity.Id, c)
	}
	return h.publish(c.roomId, c.identity.Id, c, message.Event, message.Data)
}

func (h *Hub) join(c *Client, data json.RawMessage) error {
	joinMsg := types.JoinRoomMessage{}
	if err := types.DecodeData(data, &joinMsg); err != nil {
		return fmt.Errorf("%w: %s", ErrBadRequest, err)
	}
	roomId, err := joinMsg.ResolveRoomId()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBadRequest, err)
	}
	identity := c.identity
	if joinMsg.Participant != nil {
		if joinMsg.Participant.Id != "" && joinMsg.Participant.Id != identity.Id {
			return fmt.Errorf("%w: participant %q does not match the connection identity", ErrBadRequest, joinMsg.Participant.Id)
		}
		// verified identities keep the name of their token or proxy
		if joinMsg.Participant.Name != "" && identity.Guest {
			identity.Name = joinMsg.Participant.Name
		}
	}

	if c.roomId != "" && c.roomId != roomId {
		previous := c.roomId
		c.roomId = ""
		if err := h.presence.Leave(previous, identity.Id, c); err != nil {
			h.logger.Warn("could not leave previous room", "room", previous, "participant", identity.Id, "error", err)
		}
	}

	_, err = h.presence.Join(presence.JoinRequest{
		RoomId:          roomId,
		Identity:        identity,
		Conn:            c,
		RequestedLeader: joinMsg.RequestedLeader,
		Resume:          joinMsg.Resume,
	})
	if err != nil {
		return err
	}
	c.identity = identity
	c.roomId = roomId
	return nil
}

// disconnect is called once the read side of c is gone.
func (h *Hub) disconnect(c *Client) {
	if c.roomId == "" {
		return
	}
	h.presence.Disconnect(c.roomId, c.identity.Id, c)
}

// Run hands queued notifications to the notifier and runs the periodic
// jobs until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	cronRunner := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(h.logger.StandardLogger(nil)))),
	)
	if h.Cfg.StatsCron != "" {
		if _, err := cronRunner.AddFunc(h.Cfg.StatsCron, h.logStats); err != nil {
			h.logger.Error("could not schedule stats job", "spec", h.Cfg.StatsCron, "error", err)
		}
	}
	nc := h.Cfg.NotificationConfig
	if pruner, ok := h.notifier.(persistence.Pruner); ok && nc.Retention > 0 && nc.PruneCron != "" {
		_, err := cronRunner.AddFunc(nc.PruneCron, func() {
			h.prune(ctx, pruner, nc.Retention)
		})
		if err != nil {
			h.logger.Error("could not schedule prune job", "spec", nc.PruneCron, "error", err)
		}
	}
	cronRunner.Start()
	defer func() {
		<-cronRunner.Stop().Done()
	}()

	h.logger.Info("start hub run loop")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub run loop stopped")
			return
		case n := <-h.notifications:
			h.notify(ctx, n)
		}
	}
}

func (h *Hub) notify(ctx context.Context, n *types.Notification) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := h.notifier.Notify(ctx, n); err != nil {
		h.logger.Error("could not hand off notification", "room", n.RoomId, "event", n.Event, "id", n.Id, "error", err)
	}
}

func (h *Hub) prune(ctx context.Context, pruner persistence.Pruner, retention time.Duration) {
	before := h.registry.Clock().Now().Add(-retention)
	count, err := pruner.Prune(ctx, before)
	if err != nil {
		h.logger.Error("could not prune notifications", "error", err)
		return
	}
	h.logger.Info("pruned notifications", "count", count, "before", before)
}

func (h *Hub) logStats() {
	stats := h.registry.Stats()
	h.logger.Info("room stats", "rooms", stats.Rooms, "participants", stats.Participants,
		"connected", stats.Connected, "in_grace", stats.InGrace, "leaderless", stats.Leaderless)
}
