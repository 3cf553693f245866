package models

import (
	"context"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID                   int             `gorm:"primary_key" json:"id"`
	BariqId              string          `gorm:"size:16;uniqueIndex;not null" json:"bariq_id"`
	FullName             string          `gorm:"size:255;not null" json:"full_name" binding:"required"`
	Phone                string          `gorm:"size:32;uniqueIndex;not null" json:"phone" binding:"required"`
	Email                string          `gorm:"size:255;default:null" json:"email"`
	NationalId           string          `gorm:"size:32;default:null" json:"national_id"`
	City                 string          `gorm:"size:128;default:null" json:"city"`
	Status               CustomerStatus  `gorm:"size:32;not null;default:'pending'" json:"status"`
	StatusReason         string          `gorm:"size:255;default:null" json:"status_reason"`
	CreditLimit          decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"credit_limit"`
	UsedCredit           decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"used_credit"`
	AvailableCredit      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"available_credit"`
	Language             string          `gorm:"size:8;not null;default:'ar'" json:"language"`
	NotificationsEnabled *bool           `gorm:"not null;default:true" json:"notifications_enabled"`
	DeviceToken          string          `gorm:"size:512;default:null" json:"-"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	FullName    string          `json:"full_name" binding:"required" validate:"required"`
	Phone       string          `json:"phone" binding:"required" validate:"required"`
	Email       string          `json:"email" validate:"omitempty,email"`
	NationalId  string          `json:"national_id"`
	City        string          `json:"city"`
	Language    string          `json:"language"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

func (c Customer) CanTransact() bool {
	return c.Status == CustomerStatusActive
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	phone, err := utils.NormalizePhoneNumber(input.Phone, "SA")
	if err != nil {
		return nil, utils.ValidationErr("phone %s", err.Error())
	}

	creditLimit := input.CreditLimit
	if creditLimit.IsNegative() {
		return nil, utils.ValidationErr("credit_limit cannot be negative")
	}
	maxLimit := config.MaxCreditLimit()
	if creditLimit.GreaterThan(maxLimit) {
		return nil, utils.ValidationErr("credit_limit cannot exceed %s", maxLimit.String())
	}

	language := input.Language
	if language == "" {
		language = "ar"
	}

	customer := Customer{
		FullName:             input.FullName,
		Phone:                phone,
		Email:                input.Email,
		NationalId:           input.NationalId,
		City:                 input.City,
		Status:               CustomerStatusPending,
		CreditLimit:          creditLimit,
		UsedCredit:           decimal.Zero,
		AvailableCredit:      creditLimit,
		Language:             language,
		NotificationsEnabled: utils.NewTrue(),
	}

	db := config.GetDB()
	// The bariq id is the short code customers read out at the till. The
	// unique index arbitrates collisions; retry with a fresh code.
	for attempt := 0; attempt < 5; attempt++ {
		customer.BariqId = utils.GenerateShortCode(6)
		err := db.WithContext(ctx).Create(&customer).Error
		if err == nil {
			return &customer, nil
		}
		if !utils.IsDuplicateEntryErr(err) {
			return nil, err
		}
		exists, countErr := utils.ResourceCountWhere[Customer](ctx, "phone = ?", phone)
		if countErr == nil && exists > 0 {
			return nil, utils.DuplicateErr("customer with phone %s already exists", phone)
		}
	}
	return nil, utils.NewError(utils.ErrorKindInternal, "could not allocate a unique bariq id")
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	customer, err := utils.FetchModel[Customer](ctx, id)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("customer %d not found", id)
		}
		return nil, err
	}
	return customer, nil
}

// GetCustomerByBariqId resolves the short code a cashier keys in at the till.
func GetCustomerByBariqId(ctx context.Context, bariqId string) (*Customer, error) {
	customer, err := utils.FetchModelWhere[Customer](ctx, "bariq_id = ?", bariqId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("customer with bariq id %s not found", bariqId)
		}
		return nil, err
	}
	return customer, nil
}

func GetCustomerByPhone(ctx context.Context, phone string) (*Customer, error) {
	normalized, err := utils.NormalizePhoneNumber(phone, "SA")
	if err != nil {
		return nil, utils.ValidationErr("phone %s", err.Error())
	}
	customer, err := utils.FetchModelWhere[Customer](ctx, "phone = ?", normalized)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("customer with phone %s not found", normalized)
		}
		return nil, err
	}
	return customer, nil
}

func GetCustomers(ctx context.Context, status *CustomerStatus, search *string) ([]*Customer, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Order("id DESC")
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if search != nil && *search != "" {
		like := "%" + *search + "%"
		dbCtx = dbCtx.Where("full_name LIKE ? OR phone LIKE ? OR bariq_id LIKE ?", like, like, like)
	}
	var results []*Customer
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateCustomerStatus moves a customer between pending, active, suspended
// and blocked. Suspension freezes new transactions but never touches
// reservations; outstanding debt keeps its hold on the limit.
func UpdateCustomerStatus(ctx context.Context, id int, status CustomerStatus, reason string) (*Customer, error) {
	switch status {
	case CustomerStatusPending, CustomerStatusActive, CustomerStatusSuspended, CustomerStatusBlocked:
	default:
		return nil, utils.ValidationErr("invalid customer status %s", status)
	}

	customer, err := GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer.Status == status {
		return customer, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Customer{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"status_reason": reason,
		}).Error; err != nil {
		return nil, err
	}
	customer.Status = status
	customer.StatusReason = reason
	return customer, nil
}

func UpdateCustomerDeviceToken(ctx context.Context, id int, deviceToken string) error {
	if err := utils.ValidateResourceId[Customer](ctx, id); err != nil {
		return utils.NotFoundErr("customer %d not found", id)
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Customer{}).Where("id = ?", id).
		Update("device_token", deviceToken).Error
}

func SetCustomerNotificationsEnabled(ctx context.Context, id int, enabled bool) error {
	if err := utils.ValidateResourceId[Customer](ctx, id); err != nil {
		return utils.NotFoundErr("customer %d not found", id)
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Customer{}).Where("id = ?", id).
		Update("notifications_enabled", enabled).Error
}
