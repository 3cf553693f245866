package models

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// TransactionItems stores the purchased line items as a JSON column.
type TransactionItems []TransactionItem

func (items TransactionItems) Value() (driver.Value, error) {
	if items == nil {
		return "[]", nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (items *TransactionItems) Scan(value interface{}) error {
	if value == nil {
		*items = TransactionItems{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, items)
	case string:
		return json.Unmarshal([]byte(v), items)
	}
	return errors.New("unsupported type for transaction items")
}

type Transaction struct {
	ID                 int                  `gorm:"primary_key" json:"id"`
	ReferenceNumber    string               `gorm:"size:64;uniqueIndex;not null" json:"reference_number"`
	CustomerId         int                  `gorm:"index;not null" json:"customer_id"`
	MerchantId         int                  `gorm:"index;not null" json:"merchant_id"`
	BranchId           int                  `gorm:"index;not null" json:"branch_id"`
	CashierId          int                  `gorm:"default:null" json:"cashier_id"`
	Items              TransactionItems     `gorm:"type:json" json:"items"`
	Subtotal           decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"subtotal"`
	Discount           decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"discount"`
	TotalAmount        decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"total_amount"`
	PaidAmount         decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"paid_amount"`
	ReturnedAmount     decimal.Decimal      `gorm:"type:decimal(20,4);not null;default:0" json:"returned_amount"`
	TransactionDate    time.Time            `gorm:"index;not null" json:"transaction_date"`
	DueDate            time.Time            `gorm:"index;not null" json:"due_date"`
	Status             TransactionStatus    `gorm:"size:32;index;not null;default:'pending'" json:"status"`
	SettlementId       *int                 `gorm:"index;default:null" json:"settlement_id"`
	CancellationReason string               `gorm:"size:255;default:null" json:"cancellation_reason"`
	Notes              string               `gorm:"type:text;default:null" json:"notes"`
	PaidAt             *time.Time           `gorm:"default:null" json:"paid_at"`
	Customer           *Customer            `json:"customer,omitempty"`
	Merchant           *Merchant            `json:"merchant,omitempty"`
	Branch             *Branch              `json:"branch,omitempty"`
	Returns            []*TransactionReturn `json:"returns,omitempty"`
	CreatedAt          time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTransaction struct {
	MerchantId      int               `json:"merchant_id" binding:"required" validate:"required,gt=0"`
	BranchId        int               `json:"branch_id" binding:"required" validate:"required,gt=0"`
	CashierId       int               `json:"cashier_id"`
	CustomerBariqId string            `json:"customer_bariq_id" binding:"required" validate:"required"`
	Items           []TransactionItem `json:"items" binding:"required" validate:"required,min=1"`
	Discount        decimal.Decimal   `json:"discount"`
	Notes           string            `json:"notes"`
	PaymentTermDays int               `json:"payment_term_days"`
}

// RemainingAmount is what the customer still owes on this transaction.
func (t Transaction) RemainingAmount() decimal.Decimal {
	return t.TotalAmount.Sub(t.PaidAmount).Sub(t.ReturnedAmount)
}

// lockTransaction loads a transaction row with a row lock inside tx.
func lockTransaction(tx *gorm.DB, ctx context.Context, transactionId int) (*Transaction, error) {
	var transaction Transaction
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&transaction, transactionId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NotFoundErr("transaction %d not found", transactionId)
		}
		return nil, err
	}
	return &transaction, nil
}

// CreateTransaction records a purchase initiated at the till. The transaction
// starts pending and holds NO credit; the reservation happens at confirmation.
// The availability check here is advisory so the cashier gets an immediate
// answer, not a guarantee the confirm will succeed.
func CreateTransaction(ctx context.Context, input *NewTransaction) (*Transaction, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	merchant, err := GetMerchant(ctx, input.MerchantId)
	if err != nil {
		return nil, err
	}
	if merchant.Status != MerchantStatusActive {
		return nil, utils.InvalidStateErr("merchant %d is not active", merchant.ID)
	}

	branch, err := utils.FetchModelWhere[Branch](ctx, "id = ? AND merchant_id = ?", input.BranchId, input.MerchantId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("branch %d not found for merchant %d", input.BranchId, input.MerchantId)
		}
		return nil, err
	}
	if !utils.DereferencePtr(branch.IsActive) {
		return nil, utils.InvalidStateErr("branch %d is not active", branch.ID)
	}

	customer, err := GetCustomerByBariqId(ctx, input.CustomerBariqId)
	if err != nil {
		return nil, err
	}
	if !customer.CanTransact() {
		return nil, utils.InvalidStateErr("customer account is not active")
	}

	subtotal := decimal.Zero
	for _, item := range input.Items {
		if item.UnitPrice.IsNegative() || item.Quantity <= 0 {
			return nil, utils.ValidationErr("item %q has invalid price or quantity", item.Name)
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	discount := input.Discount
	if discount.IsNegative() {
		return nil, utils.ValidationErr("discount cannot be negative")
	}
	if discount.GreaterThan(subtotal) {
		return nil, utils.ValidationErr("discount cannot exceed subtotal")
	}
	totalAmount := subtotal.Sub(discount)

	minAmount := config.MinTransactionAmount()
	maxAmount := config.MaxTransactionAmount()
	if totalAmount.LessThan(minAmount) {
		return nil, utils.ValidationErr("transaction amount must be at least %s SAR", minAmount.String())
	}
	if totalAmount.GreaterThan(maxAmount) {
		return nil, utils.ValidationErr("transaction amount cannot exceed %s SAR", maxAmount.String())
	}

	if totalAmount.GreaterThan(customer.AvailableCredit) {
		return nil, utils.InsufficientCreditErr(
			"insufficient credit: available %s SAR, required %s SAR",
			customer.AvailableCredit.String(), totalAmount.String())
	}

	repaymentDays := input.PaymentTermDays
	if repaymentDays <= 0 {
		repaymentDays = config.RepaymentDays()
	}
	now := time.Now().UTC()

	transaction := Transaction{
		CustomerId:      customer.ID,
		MerchantId:      input.MerchantId,
		BranchId:        input.BranchId,
		CashierId:       input.CashierId,
		Items:           input.Items,
		Subtotal:        subtotal,
		Discount:        discount,
		TotalAmount:     totalAmount,
		TransactionDate: now,
		DueDate:         now.AddDate(0, 0, repaymentDays),
		Status:          TransactionStatusPending,
		Notes:           input.Notes,
	}

	db := config.GetDB()
	err = db.Transaction(func(tx *gorm.DB) error {
		for attempt := 0; ; attempt++ {
			transaction.ReferenceNumber = utils.GenerateReference("TXN")
			err := tx.WithContext(ctx).Create(&transaction).Error
			if err == nil {
				break
			}
			if utils.IsDuplicateEntryErr(err) && attempt < 3 {
				continue
			}
			return err
		}
		return notify(tx, ctx, customer.ID, "New Transaction",
			fmt.Sprintf("New transaction from %s for %s SAR. Please confirm.", merchant.Name, totalAmount.String()),
			NotificationTypeTransaction, transaction.ID)
	})
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// ConfirmTransaction is the customer's acceptance of a pending purchase.
// This is the only place credit is reserved; the hold and the status change
// commit atomically.
func ConfirmTransaction(ctx context.Context, customerId int, transactionId int) (*Transaction, error) {
	db := config.GetDB()
	var transaction *Transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		transaction, err = lockTransaction(tx, ctx, transactionId)
		if err != nil {
			return err
		}
		if transaction.CustomerId != customerId {
			return utils.NotFoundErr("transaction %d not found", transactionId)
		}
		if transaction.Status != TransactionStatusPending {
			return utils.InvalidStateErr("cannot confirm transaction with status %s", transaction.Status)
		}
		if err := reserveCredit(tx, ctx, customerId, transaction.TotalAmount); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&Transaction{}).Where("id = ?", transactionId).
			Update("status", TransactionStatusConfirmed).Error; err != nil {
			return err
		}
		transaction.Status = TransactionStatusConfirmed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

// RejectTransaction is the customer declining a pending purchase. No credit
// was held, so the ledger is untouched.
func RejectTransaction(ctx context.Context, customerId int, transactionId int, reason string) (*Transaction, error) {
	if reason == "" {
		reason = "Rejected by customer"
	}
	return closePendingTransaction(ctx, transactionId, TransactionStatusRejected, reason, func(t *Transaction) error {
		if t.CustomerId != customerId {
			return utils.NotFoundErr("transaction %d not found", transactionId)
		}
		return nil
	})
}

// CancelTransaction lets the merchant withdraw a purchase the customer has
// not yet confirmed.
func CancelTransaction(ctx context.Context, merchantId int, transactionId int, reason string) (*Transaction, error) {
	transaction, err := closePendingTransaction(ctx, transactionId, TransactionStatusCancelled, reason, func(t *Transaction) error {
		if t.MerchantId != merchantId {
			return utils.NotFoundErr("transaction %d not found", transactionId)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	notifyErr := db.Transaction(func(tx *gorm.DB) error {
		return notify(tx, ctx, transaction.CustomerId, "Transaction Cancelled",
			fmt.Sprintf("Transaction %s has been cancelled", transaction.ReferenceNumber),
			NotificationTypeTransaction, transaction.ID)
	})
	if notifyErr != nil {
		config.LogError(config.GetLogger(), "models", "CancelTransaction", "notify", transaction.ID, notifyErr)
	}
	return transaction, nil
}

func closePendingTransaction(ctx context.Context, transactionId int, status TransactionStatus, reason string, check func(*Transaction) error) (*Transaction, error) {
	db := config.GetDB()
	var transaction *Transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		transaction, err = lockTransaction(tx, ctx, transactionId)
		if err != nil {
			return err
		}
		if err := check(transaction); err != nil {
			return err
		}
		if transaction.Status != TransactionStatusPending {
			return utils.InvalidStateErr("only pending transactions can be %s", status)
		}
		if err := tx.WithContext(ctx).Model(&Transaction{}).Where("id = ?", transactionId).
			Updates(map[string]interface{}{
				"status":              status,
				"cancellation_reason": reason,
			}).Error; err != nil {
			return err
		}
		transaction.Status = status
		transaction.CancellationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

/* Views */

type TransactionFilter struct {
	CustomerId *int
	MerchantId *int
	BranchId   *int
	Status     *TransactionStatus
	FromDate   *time.Time
	ToDate     *time.Time
	Limit      int
	Offset     int
}

func GetTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, int64, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Transaction{})
	if filter.CustomerId != nil && *filter.CustomerId > 0 {
		dbCtx = dbCtx.Where("customer_id = ?", *filter.CustomerId)
	}
	if filter.MerchantId != nil && *filter.MerchantId > 0 {
		dbCtx = dbCtx.Where("merchant_id = ?", *filter.MerchantId)
	}
	if filter.BranchId != nil && *filter.BranchId > 0 {
		dbCtx = dbCtx.Where("branch_id = ?", *filter.BranchId)
	}
	if filter.Status != nil && *filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.FromDate != nil {
		dbCtx = dbCtx.Where("transaction_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		dbCtx = dbCtx.Where("transaction_date <= ?", *filter.ToDate)
	}

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var results []*Transaction
	err := dbCtx.Order("transaction_date DESC").Limit(limit).Offset(filter.Offset).Find(&results).Error
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// GetTransactionForCustomer returns a transaction only if it belongs to the
// customer, preloading the merchant and branch for display.
func GetTransactionForCustomer(ctx context.Context, customerId int, transactionId int) (*Transaction, error) {
	transaction, err := fetchOwnedTransaction(ctx, transactionId, "customer_id", customerId)
	if err != nil {
		return nil, err
	}
	return transaction, nil
}

func GetTransactionForMerchant(ctx context.Context, merchantId int, transactionId int) (*Transaction, error) {
	return fetchOwnedTransaction(ctx, transactionId, "merchant_id", merchantId)
}

func fetchOwnedTransaction(ctx context.Context, transactionId int, ownerColumn string, ownerId int) (*Transaction, error) {
	db := config.GetDB()
	var transaction Transaction
	err := db.WithContext(ctx).
		Preload("Customer").Preload("Merchant").Preload("Branch").Preload("Returns").
		Where("id = ? AND "+ownerColumn+" = ?", transactionId, ownerId).
		First(&transaction).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NotFoundErr("transaction %d not found", transactionId)
		}
		return nil, err
	}
	return &transaction, nil
}

type CustomerTransactionStats struct {
	TotalTransactions int64           `json:"total_transactions"`
	Pending           int64           `json:"pending"`
	Confirmed         int64           `json:"confirmed"`
	Paid              int64           `json:"paid"`
	Overdue           int64           `json:"overdue"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
}

func GetCustomerTransactionStats(ctx context.Context, customerId int) (*CustomerTransactionStats, error) {
	if err := utils.ValidateResourceId[Customer](ctx, customerId); err != nil {
		return nil, utils.NotFoundErr("customer %d not found", customerId)
	}

	db := config.GetDB()
	var stats CustomerTransactionStats

	type statusCount struct {
		Status TransactionStatus
		Count  int64
	}
	var counts []statusCount
	if err := db.WithContext(ctx).Model(&Transaction{}).
		Select("status, COUNT(*) AS count").
		Where("customer_id = ?", customerId).
		Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.TotalTransactions += c.Count
		switch c.Status {
		case TransactionStatusPending:
			stats.Pending = c.Count
		case TransactionStatusConfirmed:
			stats.Confirmed = c.Count
		case TransactionStatusPaid:
			stats.Paid = c.Count
		case TransactionStatusOverdue:
			stats.Overdue = c.Count
		}
	}

	outstanding, err := GetCustomerDebt(ctx, customerId)
	if err != nil {
		return nil, err
	}
	stats.OutstandingAmount = outstanding
	return &stats, nil
}

// GetCustomerDebt sums what the customer still owes across outstanding
// transactions.
func GetCustomerDebt(ctx context.Context, customerId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var outstanding decimal.NullDecimal
	err := db.WithContext(ctx).Model(&Transaction{}).
		Select("COALESCE(SUM(total_amount - paid_amount - returned_amount), 0)").
		Where("customer_id = ? AND status IN ?", customerId,
			[]TransactionStatus{TransactionStatusConfirmed, TransactionStatusOverdue}).
		Scan(&outstanding).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !outstanding.Valid {
		return decimal.Zero, nil
	}
	return outstanding.Decimal, nil
}

// MarkOverdueTransactions flips confirmed transactions past their due date to
// overdue and queues a reminder per affected customer. Called by the daily
// sweep.
func MarkOverdueTransactions(ctx context.Context) (int, error) {
	db := config.GetDB()
	today := time.Now().UTC()

	var overdue []*Transaction
	if err := db.WithContext(ctx).
		Where("status = ? AND due_date < ?", TransactionStatusConfirmed, today).
		Find(&overdue).Error; err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	count := 0
	for _, txn := range overdue {
		err := db.Transaction(func(tx *gorm.DB) error {
			// Re-check under lock; a payment may have landed since the scan.
			locked, err := lockTransaction(tx, ctx, txn.ID)
			if err != nil {
				return err
			}
			if locked.Status != TransactionStatusConfirmed || !locked.DueDate.Before(today) {
				return nil
			}
			if err := tx.WithContext(ctx).Model(&Transaction{}).Where("id = ?", txn.ID).
				Update("status", TransactionStatusOverdue).Error; err != nil {
				return err
			}
			count++
			return notify(tx, ctx, locked.CustomerId, "Overdue Transaction",
				fmt.Sprintf("Transaction %s is overdue. Please pay as soon as possible.", locked.ReferenceNumber),
				NotificationTypePaymentReminder, locked.ID)
		})
		if err != nil {
			config.LogError(config.GetLogger(), "models", "MarkOverdueTransactions", "mark", txn.ID, err)
		}
	}
	return count, nil
}

// SendDueReminders queues a reminder for every confirmed transaction whose due
// date falls exactly daysAhead days from today. Runs once per day.
func SendDueReminders(ctx context.Context, daysAhead []int) (int, error) {
	db := config.GetDB()
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	count := 0
	for _, offset := range daysAhead {
		dayStart := today.AddDate(0, 0, offset)
		dayEnd := dayStart.AddDate(0, 0, 1)

		var due []*Transaction
		if err := db.WithContext(ctx).
			Where("status = ? AND due_date >= ? AND due_date < ?", TransactionStatusConfirmed, dayStart, dayEnd).
			Find(&due).Error; err != nil {
			return count, err
		}
		for _, txn := range due {
			body := fmt.Sprintf("Transaction %s is due on %s.", txn.ReferenceNumber, txn.DueDate.Format("2006-01-02"))
			if offset == 0 {
				body = fmt.Sprintf("Transaction %s is due today.", txn.ReferenceNumber)
			}
			err := db.Transaction(func(tx *gorm.DB) error {
				return notify(tx, ctx, txn.CustomerId, "Payment Reminder", body, NotificationTypePaymentReminder, txn.ID)
			})
			if err != nil {
				config.LogError(config.GetLogger(), "models", "SendDueReminders", "notify", txn.ID, err)
				continue
			}
			count++
		}
	}
	return count, nil
}
