package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-meeting/config"
	"github.com/tcriess/lightspeed-meeting/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NotificationRecord is the table layout of a notification.
type NotificationRecord struct {
	Id         string `gorm:"primaryKey"`
	RoomId     string `gorm:"index"`
	Event      string `gorm:"index"`
	SenderId   string
	SenderName string
	Data       datatypes.JSON
	Created    time.Time `gorm:"index"`
}

func (NotificationRecord) TableName() string {
	return "notifications"
}

type GormNotifier struct {
	db *gorm.DB
}

func NewGormNotifier(cfg *config.Config) (*GormNotifier, error) {
	db, err := setupGormDB(cfg.NotificationConfig.Type, cfg.NotificationConfig.DSN)
	if err != nil {
		return nil, err
	}
	return &GormNotifier{db: db}, nil
}

func setupGormDB(dbType, dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch dbType {
	case "postgres":
		dial = postgres.Open(dsn)

	case "sqlite":
		dial = sqlite.Open(dsn)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&NotificationRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

func (p *GormNotifier) Notify(ctx context.Context, notification *types.Notification) error {
	record := NotificationRecord{
		Id:         notification.Id,
		RoomId:     notification.RoomId,
		Event:      notification.Event,
		SenderId:   notification.Sender.Id,
		SenderName: notification.Sender.Name,
		Data:       datatypes.JSON(notification.Data),
		Created:    notification.Created,
	}
	return p.db.WithContext(ctx).Create(&record).Error
}

func (p *GormNotifier) Prune(ctx context.Context, before time.Time) (int, error) {
	res := p.db.WithContext(ctx).Where("created < ?", before).Delete(&NotificationRecord{})
	return int(res.RowsAffected), res.Error
}

// RoomNotifications returns the stored notifications of one room, oldest first.
func (p *GormNotifier) RoomNotifications(ctx context.Context, roomId string) ([]*types.Notification, error) {
	records := make([]NotificationRecord, 0)
	err := p.db.WithContext(ctx).Where("room_id = ?", roomId).Order("created ASC").Find(&records).Error
	if err != nil {
		return nil, err
	}
	res := make([]*types.Notification, 0, len(records))
	for _, r := range records {
		res = append(res, &types.Notification{
			Id:      r.Id,
			RoomId:  r.RoomId,
			Event:   r.Event,
			Sender:  types.Identity{Id: r.SenderId, Name: r.SenderName},
			Data:    []byte(r.Data),
			Created: r.Created,
		})
	}
	return res, nil
}

func (p *GormNotifier) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
