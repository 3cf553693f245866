package models

import (
	"context"
	"fmt"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Settlement struct {
	ID                int              `gorm:"primary_key" json:"id"`
	ReferenceNumber   string           `gorm:"size:64;uniqueIndex;not null" json:"reference_number"`
	MerchantId        int              `gorm:"index;not null" json:"merchant_id"`
	BranchId          int              `gorm:"index;not null" json:"branch_id"`
	PeriodStart       time.Time        `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time        `gorm:"not null" json:"period_end"`
	GrossAmount       decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"gross_amount"`
	ReturnsAmount     decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"returns_amount"`
	CommissionRate    decimal.Decimal  `gorm:"type:decimal(8,4);not null;default:0" json:"commission_rate"`
	CommissionAmount  decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"commission_amount"`
	NetAmount         decimal.Decimal  `gorm:"type:decimal(20,4);not null;default:0" json:"net_amount"`
	TransactionCount  int              `gorm:"not null;default:0" json:"transaction_count"`
	ReturnCount       int              `gorm:"not null;default:0" json:"return_count"`
	Status            SettlementStatus `gorm:"size:32;index;not null;default:'pending'" json:"status"`
	RejectionReason   string           `gorm:"size:255;default:null" json:"rejection_reason"`
	TransferReference string           `gorm:"size:128;default:null" json:"transfer_reference"`
	ApprovedBy        int              `gorm:"default:null" json:"approved_by"`
	ApprovedAt        *time.Time       `gorm:"default:null" json:"approved_at"`
	TransferredAt     *time.Time       `gorm:"default:null" json:"transferred_at"`
	Merchant          *Merchant        `json:"merchant,omitempty"`
	Branch            *Branch          `json:"branch,omitempty"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// settlementMemberStatuses are the transaction states eligible for payout.
var settlementMemberStatuses = []TransactionStatus{
	TransactionStatusPaid, TransactionStatusConfirmed, TransactionStatusOverdue,
}

// settlementTotals computes the payout breakdown for a batch of transactions
// using the merchant's configured commission rate (a percentage).
func settlementTotals(transactions []*Transaction, commissionRate decimal.Decimal) (gross, returns, commission, net decimal.Decimal) {
	for _, txn := range transactions {
		gross = gross.Add(txn.TotalAmount)
		returns = returns.Add(txn.ReturnedAmount)
	}
	netBeforeCommission := gross.Sub(returns)
	commission = netBeforeCommission.Mul(commissionRate).Div(decimal.NewFromInt(100))
	net = netBeforeCommission.Sub(commission)
	return gross, returns, commission, net
}

// CreateSettlement batches a branch's unsettled transactions for a period
// into a payout. Members are pinned by settlement_id with a conditional
// update so a transaction can never land in two settlements: if a concurrent
// batch claims any member first, the whole creation rolls back.
func CreateSettlement(ctx context.Context, merchantId int, branchId int, periodStart time.Time, periodEnd time.Time) (*Settlement, error) {
	if !periodEnd.After(periodStart) {
		return nil, utils.ValidationErr("period_end must be after period_start")
	}

	merchant, err := GetMerchant(ctx, merchantId)
	if err != nil {
		return nil, err
	}
	if _, err := utils.FetchModelWhere[Branch](ctx, "id = ? AND merchant_id = ?", branchId, merchantId); err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("branch %d not found for merchant %d", branchId, merchantId)
		}
		return nil, err
	}

	db := config.GetDB()
	var settlement Settlement
	err = db.Transaction(func(tx *gorm.DB) error {
		var transactions []*Transaction
		if err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("merchant_id = ? AND branch_id = ? AND settlement_id IS NULL", merchantId, branchId).
			Where("status IN ?", settlementMemberStatuses).
			Where("transaction_date >= ? AND transaction_date <= ?", periodStart, periodEnd).
			Find(&transactions).Error; err != nil {
			return err
		}
		if len(transactions) == 0 {
			return utils.NotFoundErr("no transactions found for this period")
		}

		gross, returns, commission, net := settlementTotals(transactions, merchant.CommissionRate)

		var returnCount int64
		if err := tx.WithContext(ctx).Model(&TransactionReturn{}).
			Joins("JOIN transactions ON transactions.id = transaction_returns.transaction_id").
			Where("transactions.merchant_id = ? AND transactions.branch_id = ?", merchantId, branchId).
			Where("transaction_returns.created_at >= ? AND transaction_returns.created_at <= ?", periodStart, periodEnd).
			Count(&returnCount).Error; err != nil {
			return err
		}

		settlement = Settlement{
			MerchantId:       merchantId,
			BranchId:         branchId,
			PeriodStart:      periodStart,
			PeriodEnd:        periodEnd,
			GrossAmount:      gross,
			ReturnsAmount:    returns,
			CommissionRate:   merchant.CommissionRate,
			CommissionAmount: commission,
			NetAmount:        net,
			TransactionCount: len(transactions),
			ReturnCount:      int(returnCount),
			Status:           SettlementStatusPending,
		}
		for attempt := 0; ; attempt++ {
			settlement.ReferenceNumber = utils.GenerateReference("STL")
			err := tx.WithContext(ctx).Create(&settlement).Error
			if err == nil {
				break
			}
			if utils.IsDuplicateEntryErr(err) && attempt < 3 {
				continue
			}
			return err
		}

		memberIds := make([]int, len(transactions))
		for i, txn := range transactions {
			memberIds[i] = txn.ID
		}
		// The IS NULL predicate is the concurrency guard: rows claimed by
		// another settlement between the select and here are not updated,
		// and the count mismatch aborts the batch.
		result := tx.WithContext(ctx).Model(&Transaction{}).
			Where("id IN ? AND settlement_id IS NULL", memberIds).
			Update("settlement_id", settlement.ID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(memberIds)) {
			return utils.DuplicateErr("some transactions were settled by a concurrent batch")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invalidatePendingSettlementCache(merchantId, branchId)
	return &settlement, nil
}

func ApproveSettlement(ctx context.Context, settlementId int, adminId int) (*Settlement, error) {
	return transitionSettlement(ctx, settlementId, []SettlementStatus{SettlementStatusPending},
		func(tx *gorm.DB, settlement *Settlement) error {
			now := time.Now().UTC()
			settlement.Status = SettlementStatusApproved
			settlement.ApprovedBy = adminId
			settlement.ApprovedAt = &now
			return tx.WithContext(ctx).Model(&Settlement{}).Where("id = ?", settlement.ID).
				Updates(map[string]interface{}{
					"status":      SettlementStatusApproved,
					"approved_by": adminId,
					"approved_at": now,
				}).Error
		})
}

func MarkSettlementTransferred(ctx context.Context, settlementId int, transferReference string, adminId int) (*Settlement, error) {
	if transferReference == "" {
		return nil, utils.ValidationErr("transfer_reference is required")
	}
	return transitionSettlement(ctx, settlementId, []SettlementStatus{SettlementStatusApproved},
		func(tx *gorm.DB, settlement *Settlement) error {
			now := time.Now().UTC()
			settlement.Status = SettlementStatusTransferred
			settlement.TransferReference = transferReference
			settlement.TransferredAt = &now
			return tx.WithContext(ctx).Model(&Settlement{}).Where("id = ?", settlement.ID).
				Updates(map[string]interface{}{
					"status":             SettlementStatusTransferred,
					"transfer_reference": transferReference,
					"transferred_at":     now,
				}).Error
		})
}

// RejectSettlement voids a pending or approved payout and unpins its member
// transactions so a corrected batch can pick them up again.
func RejectSettlement(ctx context.Context, settlementId int, reason string, adminId int) (*Settlement, error) {
	settlement, err := transitionSettlement(ctx, settlementId,
		[]SettlementStatus{SettlementStatusPending, SettlementStatusApproved},
		func(tx *gorm.DB, settlement *Settlement) error {
			settlement.Status = SettlementStatusRejected
			settlement.RejectionReason = reason
			if err := tx.WithContext(ctx).Model(&Settlement{}).Where("id = ?", settlement.ID).
				Updates(map[string]interface{}{
					"status":           SettlementStatusRejected,
					"rejection_reason": reason,
				}).Error; err != nil {
				return err
			}
			return tx.WithContext(ctx).Model(&Transaction{}).
				Where("settlement_id = ?", settlement.ID).
				Update("settlement_id", nil).Error
		})
	if err != nil {
		return nil, err
	}
	invalidatePendingSettlementCache(settlement.MerchantId, settlement.BranchId)
	return settlement, nil
}

func transitionSettlement(ctx context.Context, settlementId int, fromStatuses []SettlementStatus, apply func(*gorm.DB, *Settlement) error) (*Settlement, error) {
	db := config.GetDB()
	var settlement Settlement
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&settlement, settlementId).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundErr("settlement %d not found", settlementId)
			}
			return err
		}
		allowed := false
		for _, status := range fromStatuses {
			if settlement.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return utils.InvalidStateErr("cannot transition settlement with status %s", settlement.Status)
		}
		return apply(tx, &settlement)
	})
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

/* Views */

type SettlementFilter struct {
	MerchantId *int
	BranchId   *int
	Status     *SettlementStatus
	Limit      int
	Offset     int
}

func GetSettlements(ctx context.Context, filter SettlementFilter) ([]*Settlement, int64, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Settlement{})
	if filter.MerchantId != nil && *filter.MerchantId > 0 {
		dbCtx = dbCtx.Where("merchant_id = ?", *filter.MerchantId)
	}
	if filter.BranchId != nil && *filter.BranchId > 0 {
		dbCtx = dbCtx.Where("branch_id = ?", *filter.BranchId)
	}
	if filter.Status != nil && *filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var results []*Settlement
	err := dbCtx.Preload("Branch").Order("period_end DESC").
		Limit(limit).Offset(filter.Offset).Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// GetSettlementDetails loads a settlement with its member transactions.
// merchantId > 0 scopes the lookup to that merchant (merchant-facing view).
func GetSettlementDetails(ctx context.Context, settlementId int, merchantId int) (*Settlement, []*Transaction, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Preload("Merchant").Preload("Branch")
	if merchantId > 0 {
		dbCtx = dbCtx.Where("merchant_id = ?", merchantId)
	}
	var settlement Settlement
	if err := dbCtx.First(&settlement, settlementId).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, utils.NotFoundErr("settlement %d not found", settlementId)
		}
		return nil, nil, err
	}

	var members []*Transaction
	if err := db.WithContext(ctx).Where("settlement_id = ?", settlementId).
		Find(&members).Error; err != nil {
		return nil, nil, err
	}
	return &settlement, members, nil
}

type PendingSettlementAmount struct {
	GrossAmount      decimal.Decimal `json:"gross_amount"`
	ReturnsAmount    decimal.Decimal `json:"returns_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	TransactionCount int64           `json:"transaction_count"`
}

func pendingSettlementCacheKey(merchantId int, branchId *int) string {
	if branchId != nil && *branchId > 0 {
		return fmt.Sprintf("pendingSettlement:%d:%d", merchantId, *branchId)
	}
	return fmt.Sprintf("pendingSettlement:%d", merchantId)
}

func invalidatePendingSettlementCache(merchantId int, branchId int) {
	config.DeleteRedisKeys(
		fmt.Sprintf("pendingSettlement:%d", merchantId),
		fmt.Sprintf("pendingSettlement:%d:%d", merchantId, branchId),
	)
}

// GetPendingSettlementAmount previews the payout accruing for a merchant (or
// one branch). Dashboards poll this, so the result is cached briefly in redis
// and invalidated when a settlement is created or rejected.
func GetPendingSettlementAmount(ctx context.Context, merchantId int, branchId *int) (*PendingSettlementAmount, error) {
	cacheKey := pendingSettlementCacheKey(merchantId, branchId)
	var cached PendingSettlementAmount
	if exists, err := config.GetRedisObject(cacheKey, &cached); err == nil && exists {
		return &cached, nil
	}

	merchant, err := GetMerchant(ctx, merchantId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Transaction{}).
		Where("merchant_id = ? AND settlement_id IS NULL AND status IN ?", merchantId, settlementMemberStatuses)
	if branchId != nil && *branchId > 0 {
		dbCtx = dbCtx.Where("branch_id = ?", *branchId)
	}

	var sums struct {
		Gross   decimal.NullDecimal
		Returns decimal.NullDecimal
		Count   int64
	}
	if err := dbCtx.
		Select("COALESCE(SUM(total_amount), 0) AS gross, COALESCE(SUM(returned_amount), 0) AS returns, COUNT(*) AS count").
		Scan(&sums).Error; err != nil {
		return nil, err
	}

	pending := PendingSettlementAmount{
		CommissionRate:   merchant.CommissionRate,
		TransactionCount: sums.Count,
	}
	if sums.Gross.Valid {
		pending.GrossAmount = sums.Gross.Decimal
	}
	if sums.Returns.Valid {
		pending.ReturnsAmount = sums.Returns.Decimal
	}
	netBeforeCommission := pending.GrossAmount.Sub(pending.ReturnsAmount)
	pending.CommissionAmount = netBeforeCommission.Mul(merchant.CommissionRate).Div(decimal.NewFromInt(100))
	pending.NetAmount = netBeforeCommission.Sub(pending.CommissionAmount)

	if err := config.SetRedisObject(cacheKey, &pending, 5*time.Minute); err != nil {
		config.GetLogger().Warnf("pending settlement cache write failed: %v", err)
	}
	return &pending, nil
}

type SettlementStatistics struct {
	TotalSettlements int64           `json:"total_settlements"`
	Pending          int64           `json:"pending"`
	Approved         int64           `json:"approved"`
	Transferred      int64           `json:"transferred"`
	TotalNetAmount   decimal.Decimal `json:"total_net_amount"`
}

func GetSettlementStatistics(ctx context.Context, merchantId *int) (*SettlementStatistics, error) {
	db := config.GetDB()
	base := func() *gorm.DB {
		dbCtx := db.WithContext(ctx).Model(&Settlement{})
		if merchantId != nil && *merchantId > 0 {
			dbCtx = dbCtx.Where("merchant_id = ?", *merchantId)
		}
		return dbCtx
	}

	var stats SettlementStatistics
	type statusCount struct {
		Status SettlementStatus
		Count  int64
	}
	var counts []statusCount
	if err := base().Select("status, COUNT(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.TotalSettlements += c.Count
		switch c.Status {
		case SettlementStatusPending:
			stats.Pending = c.Count
		case SettlementStatusApproved:
			stats.Approved = c.Count
		case SettlementStatusTransferred:
			stats.Transferred = c.Count
		}
	}

	var totalNet decimal.NullDecimal
	if err := base().Where("status = ?", SettlementStatusTransferred).
		Select("COALESCE(SUM(net_amount), 0)").Scan(&totalNet).Error; err != nil {
		return nil, err
	}
	if totalNet.Valid {
		stats.TotalNetAmount = totalNet.Decimal
	}
	return &stats, nil
}
