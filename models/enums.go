package models

type CustomerStatus string

const (
	CustomerStatusPending   CustomerStatus = "pending"
	CustomerStatusActive    CustomerStatus = "active"
	CustomerStatusSuspended CustomerStatus = "suspended"
	CustomerStatusBlocked   CustomerStatus = "blocked"
)

type MerchantStatus string

const (
	MerchantStatusPending   MerchantStatus = "pending"
	MerchantStatusActive    MerchantStatus = "active"
	MerchantStatusSuspended MerchantStatus = "suspended"
)

type SettlementCycle string

const (
	SettlementCycleWeekly  SettlementCycle = "weekly"
	SettlementCycleMonthly SettlementCycle = "monthly"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusPaid      TransactionStatus = "paid"
	TransactionStatusOverdue   TransactionStatus = "overdue"
	TransactionStatusRejected  TransactionStatus = "rejected"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

// IsOutstanding reports whether the transaction still carries customer debt
// and can accept payments.
func (s TransactionStatus) IsOutstanding() bool {
	return s == TransactionStatusConfirmed || s == TransactionStatusOverdue
}

// IsTerminal reports whether no further state transition is allowed
// (returns may still be posted against paid/refunded up to the amount cap).
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusRejected, TransactionStatusCancelled, TransactionStatusRefunded:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusDeclined  PaymentStatus = "declined"
	PaymentStatusVoided    PaymentStatus = "voided"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// IsSettled reports whether the gateway outcome for this payment is final.
// Webhook replays against a settled payment are absorbed as no-ops.
func (s PaymentStatus) IsSettled() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusDeclined, PaymentStatusVoided, PaymentStatusRefunded:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodMada         PaymentMethod = "mada"
	PaymentMethodApplePay     PaymentMethod = "apple_pay"
	PaymentMethodStcPay       PaymentMethod = "stc_pay"
	PaymentMethodGateway      PaymentMethod = "paytabs"
)

func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCash, PaymentMethodBankTransfer, PaymentMethodCard,
		PaymentMethodMada, PaymentMethodApplePay, PaymentMethodStcPay, PaymentMethodGateway:
		return true
	}
	return false
}

type ReturnStatus string

const (
	ReturnStatusCompleted ReturnStatus = "completed"
)

type SettlementStatus string

const (
	SettlementStatusPending     SettlementStatus = "pending"
	SettlementStatusApproved    SettlementStatus = "approved"
	SettlementStatusRejected    SettlementStatus = "rejected"
	SettlementStatusTransferred SettlementStatus = "transferred"
)

type NotificationType string

const (
	NotificationTypeTransaction     NotificationType = "transaction"
	NotificationTypePayment         NotificationType = "payment"
	NotificationTypePaymentReminder NotificationType = "payment_reminder"
	NotificationTypeReturn          NotificationType = "return"
)

type PublishStatus string

const (
	PublishStatusPending    PublishStatus = "pending"
	PublishStatusProcessing PublishStatus = "processing"
	PublishStatusPublished  PublishStatus = "published"
	PublishStatusFailed     PublishStatus = "failed"
	PublishStatusDead       PublishStatus = "dead"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
