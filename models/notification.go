package models

import (
	"context"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"gorm.io/gorm"
)

// Notification is a transactional-outbox row. State transitions write it in
// the same DB transaction as the change it announces; the dispatcher publishes
// pending rows to Pub/Sub after commit. Push delivery is a downstream
// collaborator, never a reason for a core operation to fail.
type Notification struct {
	ID               int              `gorm:"primary_key" json:"id"`
	CustomerId       int              `gorm:"index;not null" json:"customer_id"`
	Title            string           `gorm:"size:255;not null" json:"title"`
	Body             string           `gorm:"type:text;not null" json:"body"`
	Type             NotificationType `gorm:"size:32;not null" json:"type"`
	ReferenceId      int              `gorm:"index;default:null" json:"reference_id"`
	IsRead           *bool            `gorm:"not null;default:false" json:"is_read"`
	PublishStatus    PublishStatus    `gorm:"size:16;index;not null;default:'pending'" json:"publish_status"`
	PublishAttempts  int              `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string          `gorm:"type:text;default:null" json:"-"`
	NextAttemptAt    *time.Time       `gorm:"default:null" json:"-"`
	LockedAt         *time.Time       `gorm:"default:null" json:"-"`
	LockedBy         *string          `gorm:"size:64;default:null" json:"-"`
	PublishedAt      *time.Time       `gorm:"default:null" json:"published_at"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// notify queues an outbox row inside the caller's transaction.
func notify(tx *gorm.DB, ctx context.Context, customerId int, title string, body string, notificationType NotificationType, referenceId int) error {
	notification := Notification{
		CustomerId:    customerId,
		Title:         title,
		Body:          body,
		Type:          notificationType,
		ReferenceId:   referenceId,
		IsRead:        utils.NewFalse(),
		PublishStatus: PublishStatusPending,
	}
	return tx.WithContext(ctx).Create(&notification).Error
}

func GetCustomerNotifications(ctx context.Context, customerId int, unreadOnly bool, limit int, offset int) ([]*Notification, int64, error) {
	if err := utils.ValidateResourceId[Customer](ctx, customerId); err != nil {
		return nil, 0, utils.NotFoundErr("customer %d not found", customerId)
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Notification{}).Where("customer_id = ?", customerId)
	if unreadOnly {
		dbCtx = dbCtx.Where("is_read = ?", false)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var results []*Notification
	err := dbCtx.Order("created_at DESC").Limit(limit).Offset(offset).Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func MarkNotificationRead(ctx context.Context, customerId int, notificationId int) error {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND customer_id = ?", notificationId, customerId).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NotFoundErr("notification %d not found", notificationId)
	}
	return nil
}

func MarkAllNotificationsRead(ctx context.Context, customerId int) (int64, error) {
	db := config.GetDB()
	result := db.WithContext(ctx).Model(&Notification{}).
		Where("customer_id = ? AND is_read = ?", customerId, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}
