package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/types"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleNotifications() []*types.Notification {
	sender := types.Identity{Id: "u1", Name: "Ada"}
	return []*types.Notification{
		types.NewNotification("retro", types.MessageTypeVoteUpdate, sender, json.RawMessage(`{"item":1}`), base),
		types.NewNotification("retro", types.MessageTypeTodoUpdate, sender, json.RawMessage(`{"todo":"x"}`), base.Add(time.Hour)),
		types.NewNotification("standup", types.MessageTypeRating, sender, json.RawMessage(`{"score":5}`), base.Add(2*time.Hour)),
	}
}

func TestNewNotifierDisabled(t *testing.T) {
	n, err := NewNotifier(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, n)

	_, err = NewNotifier(&config.Config{NotificationConfig: config.NotificationConfig{Type: "kafka"}})
	assert.Error(t, err)
}

func TestBuntNotifier(t *testing.T) {
	cfg := &config.Config{NotificationConfig: config.NotificationConfig{Type: "buntdb", DSN: ":memory:"}}
	n, err := NewNotifier(cfg)
	require.NoError(t, err)
	defer n.Close()
	bunt := n.(*BuntDBNotifier)

	ctx := context.Background()
	for _, notification := range sampleNotifications() {
		require.NoError(t, n.Notify(ctx, notification))
	}

	retro, err := bunt.RoomNotifications("retro")
	require.NoError(t, err)
	require.Len(t, retro, 2)
	assert.Equal(t, types.MessageTypeVoteUpdate, retro[0].Event)
	assert.Equal(t, "Ada", retro[0].Sender.Name)
	assert.JSONEq(t, `{"item":1}`, string(retro[0].Data))

	deleted, err := bunt.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	retro, err = bunt.RoomNotifications("retro")
	require.NoError(t, err)
	assert.Empty(t, retro)
	standup, err := bunt.RoomNotifications("standup")
	require.NoError(t, err)
	assert.Len(t, standup, 1)
}

func TestBuntNotifierFileLock(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{NotificationConfig: config.NotificationConfig{
		Type:      "buntdb",
		DSN:       filepath.Join(dir, "notifications.db"),
		FlockPath: filepath.Join(dir, "notifications.lock"),
	}}
	first, err := NewBuntNotifier(cfg)
	require.NoError(t, err)

	_, err = NewBuntNotifier(cfg)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := NewBuntNotifier(cfg)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestGormNotifier(t *testing.T) {
	cfg := &config.Config{NotificationConfig: config.NotificationConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "notifications.sqlite"),
	}}
	n, err := NewNotifier(cfg)
	require.NoError(t, err)
	defer n.Close()
	g := n.(*GormNotifier)

	ctx := context.Background()
	for _, notification := range sampleNotifications() {
		require.NoError(t, n.Notify(ctx, notification))
	}

	retro, err := g.RoomNotifications(ctx, "retro")
	require.NoError(t, err)
	require.Len(t, retro, 2)
	assert.Equal(t, types.MessageTypeTodoUpdate, retro[1].Event)
	assert.Equal(t, "u1", retro[1].Sender.Id)
	assert.JSONEq(t, `{"todo":"x"}`, string(retro[1].Data))

	var pruner Pruner = g
	deleted, err := pruner.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	retro, err = g.RoomNotifications(ctx, "retro")
	require.NoError(t, err)
	assert.Empty(t, retro)
}

func TestRedisNotifier(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := &config.Config{NotificationConfig: config.NotificationConfig{
		Type: "redis",
		Redis: config.RedisConfig{
			URI:       fmt.Sprintf("redis://%s", mr.Addr()),
			KeyPrefix: "test:",
			TTL:       time.Hour,
		},
	}}
	n, err := NewNotifier(cfg)
	require.NoError(t, err)
	defer n.Close()
	rn := n.(*RedisNotifier)

	ctx := context.Background()
	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subscriber.Close()
	sub := subscriber.Subscribe(ctx, rn.Channel())
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	notifications := sampleNotifications()
	require.NoError(t, n.Notify(ctx, notifications[0]))

	items, err := mr.List(rn.RoomKey("retro"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	stored := types.Notification{}
	require.NoError(t, json.Unmarshal([]byte(items[0]), &stored))
	assert.Equal(t, notifications[0].Id, stored.Id)
	assert.Equal(t, time.Hour, mr.TTL(rn.RoomKey("retro")))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, items[0], msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not published")
	}
}

func TestRedisNotifierUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	cfg := &config.Config{NotificationConfig: config.NotificationConfig{
		Type:  "redis",
		Redis: config.RedisConfig{URI: "redis://" + addr},
	}}
	_, err = NewRedisNotifier(cfg)
	assert.Error(t, err)
}
