package models

import (
	"context"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
)

type Branch struct {
	ID              int             `gorm:"primary_key" json:"id"`
	MerchantId      int             `gorm:"index;not null" json:"merchant_id" binding:"required"`
	Name            string          `gorm:"size:255;not null" json:"name" binding:"required"`
	City            string          `gorm:"size:128;default:null" json:"city"`
	Address         string          `gorm:"type:text;default:null" json:"address"`
	IsActive        *bool           `gorm:"not null;default:true" json:"is_active"`
	SettlementCycle SettlementCycle `gorm:"size:16;not null;default:'weekly'" json:"settlement_cycle"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBranch struct {
	MerchantId      int             `json:"merchant_id" binding:"required" validate:"required,gt=0"`
	Name            string          `json:"name" binding:"required" validate:"required"`
	City            string          `json:"city"`
	Address         string          `json:"address"`
	SettlementCycle SettlementCycle `json:"settlement_cycle"`
}

func CreateBranch(ctx context.Context, input *NewBranch) (*Branch, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Merchant](ctx, input.MerchantId); err != nil {
		return nil, utils.NotFoundErr("merchant %d not found", input.MerchantId)
	}

	cycle := input.SettlementCycle
	if cycle == "" {
		cycle = SettlementCycleWeekly
	}
	if cycle != SettlementCycleWeekly && cycle != SettlementCycleMonthly {
		return nil, utils.ValidationErr("invalid settlement cycle %s", cycle)
	}

	branch := Branch{
		MerchantId:      input.MerchantId,
		Name:            input.Name,
		City:            input.City,
		Address:         input.Address,
		IsActive:        utils.NewTrue(),
		SettlementCycle: cycle,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&branch).Error; err != nil {
		return nil, err
	}
	return &branch, nil
}

func GetBranch(ctx context.Context, id int) (*Branch, error) {
	branch, err := utils.FetchModel[Branch](ctx, id)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("branch %d not found", id)
		}
		return nil, err
	}
	return branch, nil
}

func GetBranches(ctx context.Context, merchantId *int) ([]*Branch, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Order("id")
	if merchantId != nil && *merchantId > 0 {
		dbCtx = dbCtx.Where("merchant_id = ?", *merchantId)
	}
	var results []*Branch
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetSettlementDueBranches lists active branches of active merchants whose
// settlement cycle matches. Used by the settlement batch job.
func GetSettlementDueBranches(ctx context.Context, cycle SettlementCycle) ([]*Branch, error) {
	db := config.GetDB()
	var results []*Branch
	err := db.WithContext(ctx).
		Joins("JOIN merchants ON merchants.id = branches.merchant_id").
		Where("merchants.status = ?", MerchantStatusActive).
		Where("branches.is_active = ? AND branches.settlement_cycle = ?", true, cycle).
		Order("branches.id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func SetBranchActive(ctx context.Context, id int, active bool) (*Branch, error) {
	branch, err := GetBranch(ctx, id)
	if err != nil {
		return nil, err
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Branch{}).Where("id = ?", id).
		Update("is_active", active).Error; err != nil {
		return nil, err
	}
	branch.IsActive = &active
	return branch, nil
}
