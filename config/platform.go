package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// Platform-wide business limits. Read from env with conservative defaults so
// a misconfigured deployment fails small, not open.

func decimalFromEnv(key string, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}

// MaxCreditLimit is the ceiling any single customer account may be raised to.
func MaxCreditLimit() decimal.Decimal {
	return decimalFromEnv("MAX_CREDIT_LIMIT", "10000")
}

// MinTransactionAmount / MaxTransactionAmount bound a single purchase.
func MinTransactionAmount() decimal.Decimal {
	return decimalFromEnv("MIN_TRANSACTION_AMOUNT", "10")
}

func MaxTransactionAmount() decimal.Decimal {
	return decimalFromEnv("MAX_TRANSACTION_AMOUNT", "5000")
}

// MinGatewayPaymentAmount is the smallest amount the hosted payment page accepts.
func MinGatewayPaymentAmount() decimal.Decimal {
	return decimalFromEnv("MIN_PAYMENT_AMOUNT", "10")
}

// RepaymentDays is the default term used when a transaction carries none.
func RepaymentDays() int {
	return intFromEnv("REPAYMENT_DAYS", 30)
}

// PaymentReminderDays lists the days-before-due offsets that trigger reminders.
func PaymentReminderDays() []int {
	return []int{3, 1, 0}
}
