package models

import (
	"context"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Credit ledger primitives. Every mutation of used_credit / available_credit
// in the codebase goes through this file, always under a SELECT ... FOR UPDATE
// on the customer row so concurrent confirmations serialize. The invariant
// available_credit = credit_limit - used_credit holds after every commit.

// lockCustomer loads the customer row with a row lock inside tx.
func lockCustomer(tx *gorm.DB, ctx context.Context, customerId int) (*Customer, error) {
	var customer Customer
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&customer, customerId).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.NotFoundErr("customer %d not found", customerId)
		}
		return nil, err
	}
	return &customer, nil
}

func writeLedger(tx *gorm.DB, ctx context.Context, customer *Customer, used decimal.Decimal) error {
	return tx.WithContext(ctx).Model(&Customer{}).Where("id = ?", customer.ID).
		Updates(map[string]interface{}{
			"used_credit":      used,
			"available_credit": customer.CreditLimit.Sub(used),
		}).Error
}

// reserveCredit places a hold of amount on the customer's limit.
// Fails with InsufficientCredit when the headroom is smaller than amount;
// used_credit never exceeds credit_limit.
func reserveCredit(tx *gorm.DB, ctx context.Context, customerId int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return utils.ValidationErr("reserve amount must be positive")
	}
	customer, err := lockCustomer(tx, ctx, customerId)
	if err != nil {
		return err
	}
	available := customer.CreditLimit.Sub(customer.UsedCredit)
	if available.LessThan(amount) {
		return utils.InsufficientCreditErr(
			"insufficient credit: available %s, required %s", available.String(), amount.String())
	}
	return writeLedger(tx, ctx, customer, customer.UsedCredit.Add(amount))
}

// releaseCredit returns a previously held amount to the customer.
// used_credit is clamped at zero; releasing more than is held indicates a
// caller bug but must not corrupt the ledger.
func releaseCredit(tx *gorm.DB, ctx context.Context, customerId int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return utils.ValidationErr("release amount must be positive")
	}
	customer, err := lockCustomer(tx, ctx, customerId)
	if err != nil {
		return err
	}
	remaining := customer.UsedCredit.Sub(amount)
	if remaining.IsNegative() {
		config.GetLogger().Warnf(
			"credit release clamped for customer %d: held %s, released %s",
			customerId, customer.UsedCredit.String(), amount.String())
		remaining = decimal.Zero
	}
	return writeLedger(tx, ctx, customer, remaining)
}

// SetCreditLimit changes a customer's limit. Lowering below the currently
// used amount is allowed: available goes negative and the customer simply
// cannot spend until repayments bring used_credit back under the new limit.
func SetCreditLimit(ctx context.Context, customerId int, newLimit decimal.Decimal) (*Customer, error) {
	if newLimit.IsNegative() {
		return nil, utils.ValidationErr("credit_limit cannot be negative")
	}
	maxLimit := config.MaxCreditLimit()
	if newLimit.GreaterThan(maxLimit) {
		return nil, utils.ValidationErr("credit_limit cannot exceed %s", maxLimit.String())
	}

	db := config.GetDB()
	var customer *Customer
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		customer, err = lockCustomer(tx, ctx, customerId)
		if err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Model(&Customer{}).Where("id = ?", customerId).
			Updates(map[string]interface{}{
				"credit_limit":     newLimit,
				"available_credit": newLimit.Sub(customer.UsedCredit),
			}).Error; err != nil {
			return err
		}
		customer.CreditLimit = newLimit
		customer.AvailableCredit = newLimit.Sub(customer.UsedCredit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}
