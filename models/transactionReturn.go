package models

import (
	"context"
	"fmt"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionReturn struct {
	ID            int              `gorm:"primary_key" json:"id"`
	TransactionId int              `gorm:"index;not null" json:"transaction_id"`
	ReturnAmount  decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"return_amount"`
	Reason        string           `gorm:"size:255;not null" json:"reason"`
	ReasonDetails string           `gorm:"type:text;default:null" json:"reason_details"`
	ReturnedItems TransactionItems `gorm:"type:json" json:"returned_items"`
	ProcessedBy   int              `gorm:"default:null" json:"processed_by"`
	Status        ReturnStatus     `gorm:"size:32;not null;default:'completed'" json:"status"`
	ProcessedAt   time.Time        `gorm:"not null" json:"processed_at"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTransactionReturn struct {
	ReturnAmount  decimal.Decimal   `json:"return_amount" binding:"required" validate:"required"`
	Reason        string            `json:"reason" binding:"required" validate:"required"`
	ReasonDetails string            `json:"reason_details"`
	ReturnedItems []TransactionItem `json:"returned_items"`
	ProcessedBy   int               `json:"processed_by"`
}

// ProcessReturn posts a merchandise return against a confirmed or overdue
// transaction. The returned amount comes off the customer's debt, so the
// credit hold shrinks by the same amount in the same commit. When nothing
// remains owed the transaction flips to refunded, even if some of it was
// paid in cash before the return.
func ProcessReturn(ctx context.Context, merchantId int, transactionId int, input *NewTransactionReturn) (*TransactionReturn, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if !input.ReturnAmount.IsPositive() {
		return nil, utils.ValidationErr("return amount must be positive")
	}

	db := config.GetDB()
	var transactionReturn TransactionReturn
	err := db.Transaction(func(tx *gorm.DB) error {
		transaction, err := lockTransaction(tx, ctx, transactionId)
		if err != nil {
			return err
		}
		if transaction.MerchantId != merchantId {
			return utils.NotFoundErr("transaction %d not found", transactionId)
		}
		if !transaction.Status.IsOutstanding() {
			return utils.InvalidStateErr(
				"returns can only be processed for confirmed or overdue transactions, not %s", transaction.Status)
		}

		// Paid money cannot be handed back through a merchandise return, so
		// the cap is what is still owed, not the gross total.
		maxReturnable := transaction.RemainingAmount()
		if input.ReturnAmount.GreaterThan(maxReturnable) {
			return utils.ValidationErr("return amount cannot exceed the remaining %s SAR", maxReturnable.String())
		}

		transactionReturn = TransactionReturn{
			TransactionId: transactionId,
			ReturnAmount:  input.ReturnAmount,
			Reason:        input.Reason,
			ReasonDetails: input.ReasonDetails,
			ReturnedItems: input.ReturnedItems,
			ProcessedBy:   input.ProcessedBy,
			Status:        ReturnStatusCompleted,
			ProcessedAt:   time.Now().UTC(),
		}
		if err := tx.WithContext(ctx).Create(&transactionReturn).Error; err != nil {
			return err
		}

		newReturned := transaction.ReturnedAmount.Add(input.ReturnAmount)
		updates := map[string]interface{}{"returned_amount": newReturned}
		remaining := transaction.TotalAmount.Sub(transaction.PaidAmount).Sub(newReturned)
		if !remaining.IsPositive() {
			updates["status"] = TransactionStatusRefunded
		}
		if err := tx.WithContext(ctx).Model(&Transaction{}).Where("id = ?", transactionId).
			Updates(updates).Error; err != nil {
			return err
		}

		if err := releaseCredit(tx, ctx, transaction.CustomerId, input.ReturnAmount); err != nil {
			return err
		}

		return notify(tx, ctx, transaction.CustomerId, "Refund Processed",
			fmt.Sprintf("%s SAR refunded from transaction %s", input.ReturnAmount.String(), transaction.ReferenceNumber),
			NotificationTypeReturn, transaction.ID)
	})
	if err != nil {
		return nil, err
	}
	return &transactionReturn, nil
}

type ReturnFilter struct {
	MerchantId int
	BranchId   *int
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}

func GetMerchantReturns(ctx context.Context, filter ReturnFilter) ([]*TransactionReturn, int64, error) {
	if err := utils.ValidateResourceId[Merchant](ctx, filter.MerchantId); err != nil {
		return nil, 0, utils.NotFoundErr("merchant %d not found", filter.MerchantId)
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&TransactionReturn{}).
		Joins("JOIN transactions ON transactions.id = transaction_returns.transaction_id").
		Where("transactions.merchant_id = ?", filter.MerchantId)
	if filter.BranchId != nil && *filter.BranchId > 0 {
		dbCtx = dbCtx.Where("transactions.branch_id = ?", *filter.BranchId)
	}
	if filter.FromDate != nil {
		dbCtx = dbCtx.Where("transaction_returns.created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		dbCtx = dbCtx.Where("transaction_returns.created_at <= ?", *filter.ToDate)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var results []*TransactionReturn
	err := dbCtx.Order("transaction_returns.created_at DESC").
		Limit(limit).Offset(filter.Offset).Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}
