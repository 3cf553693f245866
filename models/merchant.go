package models

import (
	"context"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
)

type Merchant struct {
	ID                int             `gorm:"primary_key" json:"id"`
	Name              string          `gorm:"size:255;not null" json:"name" binding:"required"`
	CommercialRegNo   string          `gorm:"size:64;uniqueIndex;not null" json:"commercial_reg_no" binding:"required"`
	Email             string          `gorm:"size:255;default:null" json:"email"`
	PhoneNumber       string          `gorm:"size:32;default:null" json:"phone_number"`
	Status            MerchantStatus  `gorm:"size:32;not null;default:'pending'" json:"status"`
	CommissionRate    decimal.Decimal `gorm:"type:decimal(8,4);not null;default:2.5" json:"commission_rate"`
	BankName          string          `gorm:"size:255;default:null" json:"bank_name"`
	Iban              string          `gorm:"size:64;default:null" json:"iban"`
	AccountHolderName string          `gorm:"size:255;default:null" json:"account_holder_name"`
	Branches          []*Branch       `json:"branches"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMerchant struct {
	Name              string           `json:"name" binding:"required" validate:"required"`
	CommercialRegNo   string           `json:"commercial_reg_no" binding:"required" validate:"required"`
	Email             string           `json:"email" validate:"omitempty,email"`
	PhoneNumber       string           `json:"phone_number"`
	CommissionRate    *decimal.Decimal `json:"commission_rate"`
	BankName          string           `json:"bank_name"`
	Iban              string           `json:"iban"`
	AccountHolderName string           `json:"account_holder_name"`
}

func CreateMerchant(ctx context.Context, input *NewMerchant) (*Merchant, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	// Commission rate is a percentage. It defaults to 2.5 and is the single
	// source for every commission computation; no flat rate exists elsewhere.
	rate := decimal.NewFromFloat(2.5)
	if input.CommissionRate != nil {
		rate = *input.CommissionRate
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
			return nil, utils.ValidationErr("commission_rate must be between 0 and 100")
		}
	}

	var phone string
	if input.PhoneNumber != "" {
		var err error
		phone, err = utils.NormalizePhoneNumber(input.PhoneNumber, "SA")
		if err != nil {
			return nil, utils.ValidationErr("phone_number %s", err.Error())
		}
	}

	merchant := Merchant{
		Name:              input.Name,
		CommercialRegNo:   input.CommercialRegNo,
		Email:             input.Email,
		PhoneNumber:       phone,
		Status:            MerchantStatusPending,
		CommissionRate:    rate,
		BankName:          input.BankName,
		Iban:              input.Iban,
		AccountHolderName: input.AccountHolderName,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&merchant).Error; err != nil {
		if utils.IsDuplicateEntryErr(err) {
			return nil, utils.DuplicateErr("merchant with registration %s already exists", input.CommercialRegNo)
		}
		return nil, err
	}
	return &merchant, nil
}

func GetMerchant(ctx context.Context, id int, associations ...string) (*Merchant, error) {
	merchant, err := utils.FetchModel[Merchant](ctx, id, associations...)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("merchant %d not found", id)
		}
		return nil, err
	}
	return merchant, nil
}

func GetMerchants(ctx context.Context, status *MerchantStatus) ([]*Merchant, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Order("id DESC")
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	var results []*Merchant
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func UpdateMerchantStatus(ctx context.Context, id int, status MerchantStatus) (*Merchant, error) {
	switch status {
	case MerchantStatusPending, MerchantStatusActive, MerchantStatusSuspended:
	default:
		return nil, utils.ValidationErr("invalid merchant status %s", status)
	}
	merchant, err := GetMerchant(ctx, id)
	if err != nil {
		return nil, err
	}
	if merchant.Status == status {
		return merchant, nil
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Merchant{}).Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return nil, err
	}
	merchant.Status = status
	return merchant, nil
}

// UpdateMerchantCommissionRate changes the rate applied to FUTURE settlement
// batches. Already created settlements keep the rate they were computed with.
func UpdateMerchantCommissionRate(ctx context.Context, id int, rate decimal.Decimal) (*Merchant, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, utils.ValidationErr("commission_rate must be between 0 and 100")
	}
	merchant, err := GetMerchant(ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Merchant{}).Where("id = ?", id).
		Update("commission_rate", rate).Error; err != nil {
		return nil, err
	}
	merchant.CommissionRate = rate
	return merchant, nil
}
