package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Payment struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ReferenceNumber  string          `gorm:"size:64;uniqueIndex;not null" json:"reference_number"`
	TransactionId    int             `gorm:"index;not null" json:"transaction_id"`
	CustomerId       int             `gorm:"index;not null" json:"customer_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	PaymentMethod    PaymentMethod   `gorm:"size:32;not null;default:'cash'" json:"payment_method"`
	Status           PaymentStatus   `gorm:"size:32;index;not null;default:'pending'" json:"status"`
	GatewayReference *string         `gorm:"size:128;uniqueIndex;default:null" json:"gateway_reference"`
	GatewayResponse  []byte          `gorm:"type:json" json:"gateway_response"`
	RefundedAmount   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"refunded_amount"`
	CompletedAt      *time.Time      `gorm:"default:null" json:"completed_at"`
	Transaction      *Transaction    `json:"transaction,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// paymentAllocation is one slice of a repayment assigned to a transaction.
type paymentAllocation struct {
	TransactionId int
	Amount        decimal.Decimal
}

type allocationTarget struct {
	TransactionId int
	DueDate       time.Time
	Remaining     decimal.Decimal
}

// allocateOldestFirst splits amount across targets ordered by due date
// ascending, transaction id as the tiebreak. Each target absorbs up to its
// remaining balance; the caller guarantees amount does not exceed the sum of
// remainings.
func allocateOldestFirst(targets []allocationTarget, amount decimal.Decimal) []paymentAllocation {
	sorted := make([]allocationTarget, len(targets))
	copy(sorted, targets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].DueDate.Equal(sorted[j].DueDate) {
			return sorted[i].DueDate.Before(sorted[j].DueDate)
		}
		return sorted[i].TransactionId < sorted[j].TransactionId
	})

	var allocations []paymentAllocation
	left := amount
	for _, target := range sorted {
		if !left.IsPositive() {
			break
		}
		if !target.Remaining.IsPositive() {
			continue
		}
		slice := decimal.Min(left, target.Remaining)
		allocations = append(allocations, paymentAllocation{
			TransactionId: target.TransactionId,
			Amount:        slice,
		})
		left = left.Sub(slice)
	}
	return allocations
}

type PaymentResult struct {
	Payments  []*Payment      `json:"payments"`
	TotalPaid decimal.Decimal `json:"total_paid"`
}

// ApplyPayment settles amount against the customer's outstanding
// transactions. With explicit transactionIds every listed transaction must be
// payable; with none the payment sweeps all outstanding debt oldest first.
// One payment row is written per touched transaction, paid transitions fire
// where the balance hits zero, and the credit hold shrinks by the full amount
// in a single ledger release. Everything commits or nothing does.
func ApplyPayment(ctx context.Context, customerId int, transactionIds []int, amount decimal.Decimal, method PaymentMethod) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, utils.ValidationErr("payment amount must be positive")
	}
	if !ValidPaymentMethod(method) {
		return nil, utils.ValidationErr("invalid payment method %s", method)
	}
	if err := utils.ValidateResourceId[Customer](ctx, customerId); err != nil {
		return nil, utils.NotFoundErr("customer %d not found", customerId)
	}
	transactionIds = utils.UniqueSlice(transactionIds)

	db := config.GetDB()
	var result PaymentResult
	err := db.Transaction(func(tx *gorm.DB) error {
		dbCtx := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("customer_id = ?", customerId).
			Order("due_date ASC, id ASC")
		if len(transactionIds) > 0 {
			dbCtx = dbCtx.Where("id IN ?", transactionIds)
		} else {
			dbCtx = dbCtx.Where("status IN ?",
				[]TransactionStatus{TransactionStatusConfirmed, TransactionStatusOverdue})
		}

		var transactions []*Transaction
		if err := dbCtx.Find(&transactions).Error; err != nil {
			return err
		}
		if len(transactions) == 0 {
			return utils.NotFoundErr("no outstanding transactions to pay")
		}
		if len(transactionIds) > 0 && len(transactions) != len(transactionIds) {
			return utils.NotFoundErr("one or more transactions not found")
		}

		targets := make([]allocationTarget, 0, len(transactions))
		byId := make(map[int]*Transaction, len(transactions))
		totalRemaining := decimal.Zero
		for _, txn := range transactions {
			if !txn.Status.IsOutstanding() {
				return utils.InvalidStateErr(
					"transaction %s is not payable (status %s)", txn.ReferenceNumber, txn.Status)
			}
			byId[txn.ID] = txn
			remaining := txn.RemainingAmount()
			totalRemaining = totalRemaining.Add(remaining)
			targets = append(targets, allocationTarget{
				TransactionId: txn.ID,
				DueDate:       txn.DueDate,
				Remaining:     remaining,
			})
		}
		if amount.GreaterThan(totalRemaining) {
			return utils.ValidationErr(
				"payment amount exceeds total remaining of %s SAR", totalRemaining.String())
		}

		now := time.Now().UTC()
		for _, allocation := range allocateOldestFirst(targets, amount) {
			txn := byId[allocation.TransactionId]

			payment := Payment{
				TransactionId: txn.ID,
				CustomerId:    customerId,
				Amount:        allocation.Amount,
				PaymentMethod: method,
				Status:        PaymentStatusCompleted,
				CompletedAt:   &now,
			}
			if err := createPaymentWithReference(tx, ctx, &payment); err != nil {
				return err
			}
			result.Payments = append(result.Payments, &payment)

			newPaid := txn.PaidAmount.Add(allocation.Amount)
			updates := map[string]interface{}{"paid_amount": newPaid}
			if !txn.TotalAmount.Sub(newPaid).Sub(txn.ReturnedAmount).IsPositive() {
				updates["status"] = TransactionStatusPaid
				updates["paid_at"] = now
			}
			if err := tx.WithContext(ctx).Model(&Transaction{}).Where("id = ?", txn.ID).
				Updates(updates).Error; err != nil {
				return err
			}

			if err := notify(tx, ctx, customerId, "Payment Received",
				fmt.Sprintf("Received %s SAR for transaction %s", allocation.Amount.String(), txn.ReferenceNumber),
				NotificationTypePayment, payment.ID); err != nil {
				return err
			}
		}

		// One release for the whole repayment, not per allocation.
		if err := releaseCredit(tx, ctx, customerId, amount); err != nil {
			return err
		}
		result.TotalPaid = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MakePayment is the single-transaction manual path (cash at till, bank
// transfer). It rides the same allocator so the bookkeeping is identical.
func MakePayment(ctx context.Context, customerId int, transactionId int, amount decimal.Decimal, method PaymentMethod) (*Payment, error) {
	result, err := ApplyPayment(ctx, customerId, []int{transactionId}, amount, method)
	if err != nil {
		return nil, err
	}
	return result.Payments[0], nil
}

func createPaymentWithReference(tx *gorm.DB, ctx context.Context, payment *Payment) error {
	for attempt := 0; ; attempt++ {
		payment.ReferenceNumber = utils.GenerateReference("PAY")
		err := tx.WithContext(ctx).Create(payment).Error
		if err == nil {
			return nil
		}
		if utils.IsDuplicateEntryErr(err) && attempt < 3 {
			continue
		}
		return err
	}
}

/* Views */

type CustomerDebt struct {
	TotalDebt        decimal.Decimal `json:"total_debt"`
	OverdueAmount    decimal.Decimal `json:"overdue_amount"`
	TransactionCount int             `json:"transaction_count"`
	Transactions     []*Transaction  `json:"transactions"`
}

// GetCustomerDebtSummary lists outstanding transactions ordered by due date
// with the overdue portion broken out.
func GetCustomerDebtSummary(ctx context.Context, customerId int) (*CustomerDebt, error) {
	if err := utils.ValidateResourceId[Customer](ctx, customerId); err != nil {
		return nil, utils.NotFoundErr("customer %d not found", customerId)
	}

	db := config.GetDB()
	var outstanding []*Transaction
	err := db.WithContext(ctx).Preload("Merchant").
		Where("customer_id = ? AND status IN ?", customerId,
			[]TransactionStatus{TransactionStatusConfirmed, TransactionStatusOverdue}).
		Order("due_date ASC, id ASC").
		Find(&outstanding).Error
	if err != nil {
		return nil, err
	}

	debt := CustomerDebt{Transactions: outstanding, TransactionCount: len(outstanding)}
	for _, txn := range outstanding {
		remaining := txn.RemainingAmount()
		debt.TotalDebt = debt.TotalDebt.Add(remaining)
		if txn.Status == TransactionStatusOverdue {
			debt.OverdueAmount = debt.OverdueAmount.Add(remaining)
		}
	}
	return &debt, nil
}

type PaymentFilter struct {
	CustomerId *int
	Status     *PaymentStatus
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}

func GetPayments(ctx context.Context, filter PaymentFilter) ([]*Payment, int64, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Payment{})
	if filter.CustomerId != nil && *filter.CustomerId > 0 {
		dbCtx = dbCtx.Where("customer_id = ?", *filter.CustomerId)
	}
	if filter.Status != nil && *filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.FromDate != nil {
		dbCtx = dbCtx.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		dbCtx = dbCtx.Where("created_at <= ?", *filter.ToDate)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var results []*Payment
	err := dbCtx.Preload("Transaction").Order("created_at DESC").
		Limit(limit).Offset(filter.Offset).Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

type PaymentMethodStat struct {
	Method PaymentMethod   `json:"method"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type PaymentStatistics struct {
	TotalCount  int64               `json:"total_count"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	ByMethod    []PaymentMethodStat `json:"by_method"`
}

func GetPaymentStatistics(ctx context.Context, fromDate *time.Time, toDate *time.Time) (*PaymentStatistics, error) {
	db := config.GetDB()
	base := func() *gorm.DB {
		dbCtx := db.WithContext(ctx).Model(&Payment{}).Where("status = ?", PaymentStatusCompleted)
		if fromDate != nil {
			dbCtx = dbCtx.Where("completed_at >= ?", *fromDate)
		}
		if toDate != nil {
			dbCtx = dbCtx.Where("completed_at <= ?", *toDate)
		}
		return dbCtx
	}

	var stats PaymentStatistics
	if err := base().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	var total decimal.NullDecimal
	if err := base().Select("COALESCE(SUM(amount), 0)").Scan(&total).Error; err != nil {
		return nil, err
	}
	if total.Valid {
		stats.TotalAmount = total.Decimal
	}

	if err := base().
		Select("payment_method AS method, COUNT(*) AS count, SUM(amount) AS amount").
		Group("payment_method").Scan(&stats.ByMethod).Error; err != nil {
		return nil, err
	}
	return &stats, nil
}
