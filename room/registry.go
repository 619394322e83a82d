package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-meeting/clock"
	"github.com/tcriess/lightspeed-meeting/globals"
	"github.com/tcriess/lightspeed-meeting/types"
)

const DefaultIdleTimeout = 30 * time.Second

// Registry owns all live rooms. Mutations of the same room are serialized,
// mutations of different rooms run in parallel.
type Registry struct {
	mu          sync.Mutex
	rooms       map[string]*Room
	clock       clock.Clock
	idleTimeout time.Duration
	policy      SuccessionPolicy
	logger      hclog.Logger
}

type Option func(*Registry)

func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// WithIdleTimeout sets how long an empty room is kept before it is
// discarded. Non-positive values keep the default.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

func WithSuccessionPolicy(p SuccessionPolicy) Option {
	return func(r *Registry) {
		r.policy = p
	}
}

func WithLogger(l hclog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:       make(map[string]*Room),
		clock:       clock.Real(),
		idleTimeout: DefaultIdleTimeout,
		policy:      SuccessionNone,
		logger:      globals.AppLogger.Named("room"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Clock() clock.Clock {
	return r.clock
}

// Room holds one room's state behind its own lock.
type Room struct {
	id       string
	registry *Registry

	mu        sync.Mutex
	state     *State
	deleted   bool
	idleTimer *clock.Timer
	idleGen   uint64
}

func (rm *Room) Id() string {
	return rm.id
}

// GetOrCreate returns the room with the given id, creating an empty one if
// needed. A new empty room is discarded after the idle timeout unless
// someone joins it.
func (r *Registry) GetOrCreate(roomId string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomId]; ok {
		return rm
	}
	rm := &Room{
		id:       roomId,
		registry: r,
		state:    newState(roomId, r.policy, r.logger),
	}
	r.rooms[roomId] = rm
	rm.mu.Lock()
	rm.scheduleIdleLocked()
	rm.mu.Unlock()
	r.logger.Info("room created", "room", roomId)
	return rm
}

func (r *Registry) Get(roomId string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomId]
	return rm, ok
}

// Mutate runs fn with exclusive access to the room's state. It returns
// ErrRoomNotFound if the room does not exist and fn's error otherwise.
func (r *Registry) Mutate(roomId string, fn func(*State) error) error {
	rm, ok := r.Get(roomId)
	if !ok {
		return ErrRoomNotFound
	}
	err := rm.mutate(fn)
	if errors.Is(err, errRoomDeleted) {
		return ErrRoomNotFound
	}
	return err
}

// MutateOrCreate is Mutate for a room that is created if it does not exist.
func (r *Registry) MutateOrCreate(roomId string, fn func(*State) error) error {
	for {
		err := r.GetOrCreate(roomId).mutate(fn)
		if errors.Is(err, errRoomDeleted) {
			// lost against the idle cleanup, the next lookup creates a fresh room
			continue
		}
		return err
	}
}

// Snapshot returns a copy of the room's current state.
func (r *Registry) Snapshot(roomId string) (types.RoomSnapshot, error) {
	var snap types.RoomSnapshot
	err := r.Mutate(roomId, func(s *State) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// RoomIds returns the ids of all live rooms in lexical order.
func (r *Registry) RoomIds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type Stats struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
	Connected    int `json:"connected"`
	InGrace      int `json:"in_grace"`
	Leaderless   int `json:"leaderless"`
}

func (r *Registry) Stats() Stats {
	stats := Stats{}
	for _, id := range r.RoomIds() {
		_ = r.Mutate(id, func(s *State) error {
			stats.Rooms++
			if s.LeaderId == "" {
				stats.Leaderless++
			}
			for _, p := range s.participants {
				stats.Participants++
				switch p.ConnectionState {
				case types.ConnectionStateConnected:
					stats.Connected++
				case types.ConnectionStateGracePeriod:
					stats.InGrace++
				}
			}
			return nil
		})
	}
	return stats
}

func (rm *Room) mutate(fn func(*State) error) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted {
		return errRoomDeleted
	}
	err := fn(rm.state)
	rm.scheduleIdleLocked()
	return err
}

// scheduleIdleLocked arms the idle timer while the room is empty and
// disarms it otherwise.
func (rm *Room) scheduleIdleLocked() {
	if rm.state.Len() > 0 {
		if rm.idleTimer != nil {
			rm.idleTimer.Stop()
			rm.idleTimer = nil
			rm.idleGen++
		}
		return
	}
	if rm.idleTimer != nil {
		return
	}
	rm.idleGen++
	gen := rm.idleGen
	rm.idleTimer = rm.registry.clock.AfterFunc(rm.registry.idleTimeout, func() {
		rm.expire(gen)
	})
}

func (rm *Room) expire(gen uint64) {
	r := rm.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.deleted || gen != rm.idleGen || rm.state.Len() > 0 {
		return
	}
	rm.deleted = true
	rm.idleTimer = nil
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.logger.Info("idle room discarded", "room", rm.id)
}
