package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/globals"
	"github.com/tcriess/lightspeed-meeting/types"
	"github.com/tidwall/buntdb"
)

const buntCreatedIndex = "notifications_created"

type BuntDBNotifier struct {
	db   *buntdb.DB
	lock *flock.Flock
}

// the stored value, created_ns is what the index orders by
type buntRecord struct {
	*types.Notification
	CreatedNs int64 `json:"created_ns"`
}

func NewBuntNotifier(cfg *config.Config) (*BuntDBNotifier, error) {
	nc := cfg.NotificationConfig
	var lock *flock.Flock
	if nc.FlockPath != "" {
		lock = flock.New(nc.FlockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("could not lock %s: %w", nc.FlockPath, err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", ErrLocked, nc.FlockPath)
		}
	}
	db, err := setupBuntDB(nc.DSN)
	if err != nil {
		if lock != nil {
			_ = lock.Unlock()
		}
		return nil, err
	}
	return &BuntDBNotifier{db: db, lock: lock}, nil
}

func setupBuntDB(fileName string) (*buntdb.DB, error) {
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex(buntCreatedIndex, "notification:*", buntdb.IndexJSON("created_ns"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func buntKey(n *types.Notification) string {
	return "notification:" + n.RoomId + ":" + n.Id
}

func (p *BuntDBNotifier) Notify(_ context.Context, notification *types.Notification) error {
	val, err := json.Marshal(buntRecord{Notification: notification, CreatedNs: notification.Created.UnixNano()})
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(buntKey(notification), string(val), nil)
		return err
	})
}

// Prune deletes all notifications created before the given time.
func (p *BuntDBNotifier) Prune(_ context.Context, before time.Time) (int, error) {
	pivot := fmt.Sprintf(`{"created_ns":%d}`, before.UnixNano())
	deleted := 0
	err := p.db.Update(func(tx *buntdb.Tx) error {
		keys := make([]string, 0)
		err := tx.AscendLessThan(buntCreatedIndex, pivot, func(key, _ string) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	globals.AppLogger.Debug("pruned notifications", "backend", "buntdb", "count", deleted)
	return deleted, nil
}

// RoomNotifications returns the stored notifications of one room, oldest first.
func (p *BuntDBNotifier) RoomNotifications(roomId string) ([]*types.Notification, error) {
	res := make([]*types.Notification, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("notification:"+roomId+":*", func(_, val string) bool {
			n := &types.Notification{}
			if err := json.Unmarshal([]byte(val), n); err == nil {
				res = append(res, n)
			}
			return true
		})
	})
	return res, err
}

func (p *BuntDBNotifier) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if unlockErr := p.lock.Unlock(); err == nil {
			err = unlockErr
		}
	}
	return err
}
