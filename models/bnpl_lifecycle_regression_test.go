package models_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/models"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
)

// setupIntegration starts throwaway MySQL and Redis containers, wires the env
// for the config.Connect* helpers and migrates a fresh schema.
func setupIntegration(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "bariq_test")
	t.Setenv("PAYTABS_SERVER_KEY", "test-server-key")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := models.MigrateDatabase(); err != nil {
		t.Fatalf("MigrateDatabase: %v", err)
	}
}

func createActiveMerchantAndBranch(t *testing.T, ctx context.Context, regNo string) (*models.Merchant, *models.Branch) {
	t.Helper()
	merchant, err := models.CreateMerchant(ctx, &models.NewMerchant{
		Name:            "Test Electronics",
		CommercialRegNo: regNo,
	})
	if err != nil {
		t.Fatalf("CreateMerchant: %v", err)
	}
	if _, err := models.UpdateMerchantStatus(ctx, merchant.ID, models.MerchantStatusActive); err != nil {
		t.Fatalf("activate merchant: %v", err)
	}
	branch, err := models.CreateBranch(ctx, &models.NewBranch{
		MerchantId: merchant.ID,
		Name:       "Main Branch",
		City:       "Riyadh",
	})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	return merchant, branch
}

func createActiveCustomer(t *testing.T, ctx context.Context, phone string, limit int64) *models.Customer {
	t.Helper()
	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		FullName:    "Test Customer",
		Phone:       phone,
		CreditLimit: decimal.NewFromInt(limit),
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if _, err := models.UpdateCustomerStatus(ctx, customer.ID, models.CustomerStatusActive, "test"); err != nil {
		t.Fatalf("activate customer: %v", err)
	}
	return customer
}

func createConfirmedTransaction(t *testing.T, ctx context.Context, merchant *models.Merchant, branch *models.Branch, customer *models.Customer, amount int64) *models.Transaction {
	t.Helper()
	transaction, err := models.CreateTransaction(ctx, &models.NewTransaction{
		MerchantId:      merchant.ID,
		BranchId:        branch.ID,
		CustomerBariqId: customer.BariqId,
		Items: []models.TransactionItem{
			{Name: "Item", UnitPrice: decimal.NewFromInt(amount), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if _, err := models.ConfirmTransaction(ctx, customer.ID, transaction.ID); err != nil {
		t.Fatalf("ConfirmTransaction: %v", err)
	}
	return transaction
}

func assertLedger(t *testing.T, ctx context.Context, customerId int, used, available int64) {
	t.Helper()
	customer, err := models.GetCustomer(ctx, customerId)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if !customer.UsedCredit.Equal(decimal.NewFromInt(used)) {
		t.Fatalf("used_credit = %s, want %d", customer.UsedCredit, used)
	}
	if !customer.AvailableCredit.Equal(decimal.NewFromInt(available)) {
		t.Fatalf("available_credit = %s, want %d", customer.AvailableCredit, available)
	}
	if !customer.AvailableCredit.Equal(customer.CreditLimit.Sub(customer.UsedCredit)) {
		t.Fatalf("ledger invariant broken: limit=%s used=%s available=%s",
			customer.CreditLimit, customer.UsedCredit, customer.AvailableCredit)
	}
}

func TestCreditLifecycle_ReserveOnConfirmReleaseOnPayment(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000001")
	customer := createActiveCustomer(t, ctx, "0551000001", 2500)

	transaction, err := models.CreateTransaction(ctx, &models.NewTransaction{
		MerchantId:      merchant.ID,
		BranchId:        branch.ID,
		CustomerBariqId: customer.BariqId,
		Items: []models.TransactionItem{
			{Name: "Laptop Stand", UnitPrice: decimal.NewFromInt(400), Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if transaction.Status != models.TransactionStatusPending {
		t.Fatalf("status = %s, want pending", transaction.Status)
	}
	if transaction.DueDate.Before(transaction.TransactionDate) {
		t.Fatalf("due_date %s before transaction_date %s", transaction.DueDate, transaction.TransactionDate)
	}

	// Creation holds no credit.
	assertLedger(t, ctx, customer.ID, 0, 2500)

	if _, err := models.ConfirmTransaction(ctx, customer.ID, transaction.ID); err != nil {
		t.Fatalf("ConfirmTransaction: %v", err)
	}
	assertLedger(t, ctx, customer.ID, 800, 1700)

	// Confirm is not repeatable.
	if _, err := models.ConfirmTransaction(ctx, customer.ID, transaction.ID); utils.KindOf(err) != utils.ErrorKindInvalidState {
		t.Fatalf("second confirm error kind = %v, want InvalidState", utils.KindOf(err))
	}

	// Partial payment keeps the transaction outstanding.
	if _, err := models.MakePayment(ctx, customer.ID, transaction.ID, decimal.NewFromInt(300), models.PaymentMethodCash); err != nil {
		t.Fatalf("MakePayment(300): %v", err)
	}
	assertLedger(t, ctx, customer.ID, 500, 2000)

	partial, err := models.GetTransactionForCustomer(ctx, customer.ID, transaction.ID)
	if err != nil {
		t.Fatalf("GetTransactionForCustomer: %v", err)
	}
	if partial.Status != models.TransactionStatusConfirmed {
		t.Fatalf("status after partial payment = %s, want confirmed", partial.Status)
	}

	// Final payment zeroes the debt and flips the transaction to paid.
	if _, err := models.MakePayment(ctx, customer.ID, transaction.ID, decimal.NewFromInt(500), models.PaymentMethodCash); err != nil {
		t.Fatalf("MakePayment(500): %v", err)
	}
	assertLedger(t, ctx, customer.ID, 0, 2500)

	paid, err := models.GetTransactionForCustomer(ctx, customer.ID, transaction.ID)
	if err != nil {
		t.Fatalf("GetTransactionForCustomer: %v", err)
	}
	if paid.Status != models.TransactionStatusPaid {
		t.Fatalf("status after full payment = %s, want paid", paid.Status)
	}
	if paid.PaidAt == nil {
		t.Fatal("paid_at not set")
	}

	// Overpaying a settled transaction is rejected.
	if _, err := models.MakePayment(ctx, customer.ID, transaction.ID, decimal.NewFromInt(1), models.PaymentMethodCash); err == nil {
		t.Fatal("payment against a paid transaction accepted")
	}
}

func TestConfirmTransaction_InsufficientCredit(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000002")
	customer := createActiveCustomer(t, ctx, "0551000002", 1000)

	createConfirmedTransaction(t, ctx, merchant, branch, customer, 900)

	second, err := models.CreateTransaction(ctx, &models.NewTransaction{
		MerchantId:      merchant.ID,
		BranchId:        branch.ID,
		CustomerBariqId: customer.BariqId,
		Items: []models.TransactionItem{
			{Name: "Headphones", UnitPrice: decimal.NewFromInt(90), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateTransaction(90): %v", err)
	}
	if _, err := models.ConfirmTransaction(ctx, customer.ID, second.ID); err != nil {
		t.Fatalf("ConfirmTransaction(90): %v", err)
	}

	// 1000 - 900 - 90 = 10 available; anything above fails with InsufficientCredit.
	third, err := models.CreateTransaction(ctx, &models.NewTransaction{
		MerchantId:      merchant.ID,
		BranchId:        branch.ID,
		CustomerBariqId: customer.BariqId,
		Items: []models.TransactionItem{
			{Name: "Charger", UnitPrice: decimal.NewFromInt(10), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateTransaction(10): %v", err)
	}
	// Drain the last 10 of credit behind this transaction's back.
	if _, err := models.ConfirmTransaction(ctx, customer.ID, third.ID); err != nil {
		t.Fatalf("ConfirmTransaction(10): %v", err)
	}

	fourth, err := models.CreateTransaction(ctx, &models.NewTransaction{
		MerchantId:      merchant.ID,
		BranchId:        branch.ID,
		CustomerBariqId: customer.BariqId,
		Items: []models.TransactionItem{
			{Name: "Cable", UnitPrice: decimal.NewFromInt(10), Quantity: 1},
		},
	})
	if utils.KindOf(err) != utils.ErrorKindInsufficientCredit {
		if err == nil {
			// The advisory check may pass if timing allows; the reservation must still fail.
			_, err = models.ConfirmTransaction(ctx, customer.ID, fourth.ID)
		}
		if utils.KindOf(err) != utils.ErrorKindInsufficientCredit {
			t.Fatalf("error kind = %v, want InsufficientCredit", utils.KindOf(err))
		}
	}

	assertLedger(t, ctx, customer.ID, 1000, 0)
}

/* Returns */

func TestProcessReturn_CappedAtRemainingAfterPartialPayment(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000007")
	customer := createActiveCustomer(t, ctx, "0551000007", 2500)
	transaction := createConfirmedTransaction(t, ctx, merchant, branch, customer, 100)

	if _, err := models.MakePayment(ctx, customer.ID, transaction.ID, decimal.NewFromInt(40), models.PaymentMethodCash); err != nil {
		t.Fatalf("MakePayment(40): %v", err)
	}
	assertLedger(t, ctx, customer.ID, 60, 2440)

	// Only 60 is still owed; a return for the gross total must be refused.
	if _, err := models.ProcessReturn(ctx, merchant.ID, transaction.ID, &models.NewTransactionReturn{
		ReturnAmount: decimal.NewFromInt(100),
		Reason:       "changed mind",
	}); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("error kind = %v, want Validation", utils.KindOf(err))
	}
	assertLedger(t, ctx, customer.ID, 60, 2440)

	unchanged, err := models.GetTransactionForCustomer(ctx, customer.ID, transaction.ID)
	if err != nil {
		t.Fatalf("GetTransactionForCustomer: %v", err)
	}
	if !unchanged.ReturnedAmount.IsZero() {
		t.Fatalf("returned_amount = %s after rejected return, want 0", unchanged.ReturnedAmount)
	}

	// Returning exactly the remainder clears the debt.
	if _, err := models.ProcessReturn(ctx, merchant.ID, transaction.ID, &models.NewTransactionReturn{
		ReturnAmount: decimal.NewFromInt(60),
		Reason:       "changed mind",
	}); err != nil {
		t.Fatalf("ProcessReturn(60): %v", err)
	}
	assertLedger(t, ctx, customer.ID, 0, 2500)

	refunded, err := models.GetTransactionForCustomer(ctx, customer.ID, transaction.ID)
	if err != nil {
		t.Fatalf("GetTransactionForCustomer: %v", err)
	}
	if refunded.Status != models.TransactionStatusRefunded {
		t.Fatalf("status = %s, want refunded", refunded.Status)
	}
	if refunded.PaidAmount.Add(refunded.ReturnedAmount).GreaterThan(refunded.TotalAmount) {
		t.Fatalf("paid %s + returned %s exceeds total %s",
			refunded.PaidAmount, refunded.ReturnedAmount, refunded.TotalAmount)
	}
}

/* Gateway */

type fakeGateway struct {
	tranRef   string
	refundOk  bool
	lastCart  string
	queryResp *models.GatewayStatusResult
}

func (f *fakeGateway) CreateSession(ctx context.Context, req *models.GatewaySessionRequest) (*models.GatewaySessionResult, error) {
	f.lastCart = req.CartId
	return &models.GatewaySessionResult{
		TranRef:     f.tranRef,
		RedirectUrl: "https://hosted.example/pay/" + f.tranRef,
	}, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, tranRef string) (*models.GatewayStatusResult, error) {
	if f.queryResp != nil {
		return f.queryResp, nil
	}
	return &models.GatewayStatusResult{TranRef: tranRef, ResponseStatus: "P"}, nil
}

func (f *fakeGateway) Refund(ctx context.Context, req *models.GatewayRefundRequest) (*models.GatewayRefundResult, error) {
	return &models.GatewayRefundResult{Approved: f.refundOk, RefundRef: "RF-" + req.TranRef}, nil
}

func completedCallback(tranRef string, cartId string, amount string, txnIds string) *models.GatewayCallbackPayload {
	payload := &models.GatewayCallbackPayload{
		TranRef:    tranRef,
		TranType:   "sale",
		CartId:     cartId,
		CartAmount: decimal.RequireFromString(amount),
	}
	payload.PaymentResult.ResponseStatus = "A"
	payload.UserDefined.Udf2 = txnIds
	return payload
}

func TestGatewayCallback_SettlesAndAbsorbsReplay(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000003")
	customer := createActiveCustomer(t, ctx, "0551000003", 2500)
	transaction := createConfirmedTransaction(t, ctx, merchant, branch, customer, 800)
	assertLedger(t, ctx, customer.ID, 800, 1700)

	gateway := &fakeGateway{tranRef: "TST2601"}
	session, err := models.InitiateGatewayPayment(ctx, gateway, customer.ID,
		[]int{transaction.ID}, decimal.NewFromInt(800), nil, "")
	if err != nil {
		t.Fatalf("InitiateGatewayPayment: %v", err)
	}
	if session.TranRef != "TST2601" {
		t.Fatalf("tran_ref = %s, want TST2601", session.TranRef)
	}
	// Initiation itself moves no money.
	assertLedger(t, ctx, customer.ID, 800, 1700)

	payload := completedCallback("TST2601", session.CartId, "800", fmt.Sprintf("%d", transaction.ID))
	result, err := models.HandleGatewayCallback(ctx, payload)
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if result.Status != models.PaymentStatusCompleted || result.AlreadyProcessed {
		t.Fatalf("result = %+v, want completed first delivery", result)
	}
	assertLedger(t, ctx, customer.ID, 0, 2500)

	settled, err := models.GetTransactionForCustomer(ctx, customer.ID, transaction.ID)
	if err != nil {
		t.Fatalf("GetTransactionForCustomer: %v", err)
	}
	if settled.Status != models.TransactionStatusPaid {
		t.Fatalf("transaction status = %s, want paid", settled.Status)
	}

	// Provider retry: same payload again must change nothing.
	replay, err := models.HandleGatewayCallback(ctx, payload)
	if err != nil {
		t.Fatalf("HandleGatewayCallback(replay): %v", err)
	}
	if !replay.AlreadyProcessed {
		t.Fatalf("replay result = %+v, want already_processed", replay)
	}
	assertLedger(t, ctx, customer.ID, 0, 2500)
}

func TestGatewayCallback_AmountMismatchFailsClosed(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000004")
	customer := createActiveCustomer(t, ctx, "0551000004", 2500)
	transaction := createConfirmedTransaction(t, ctx, merchant, branch, customer, 800)

	gateway := &fakeGateway{tranRef: "TST2602"}
	session, err := models.InitiateGatewayPayment(ctx, gateway, customer.ID,
		[]int{transaction.ID}, decimal.NewFromInt(800), nil, "")
	if err != nil {
		t.Fatalf("InitiateGatewayPayment: %v", err)
	}

	// Completed status but the captured amount disagrees with the recorded one.
	payload := completedCallback("TST2602", session.CartId, "750", fmt.Sprintf("%d", transaction.ID))
	if _, err := models.HandleGatewayCallback(ctx, payload); utils.KindOf(err) != utils.ErrorKindAmountMismatch {
		t.Fatalf("error kind = %v, want AmountMismatch", utils.KindOf(err))
	}

	// Nothing moved and the payment is still pending, so a corrected delivery
	// can settle it later.
	assertLedger(t, ctx, customer.ID, 800, 1700)
	payments, _, err := models.GetPayments(ctx, models.PaymentFilter{CustomerId: &customer.ID})
	if err != nil {
		t.Fatalf("GetPayments: %v", err)
	}
	if len(payments) != 1 || payments[0].Status != models.PaymentStatusPending {
		t.Fatalf("payments = %+v, want one pending payment", payments)
	}
	// The mismatched capture survives the rolled-back callback for review.
	if !bytes.Contains(payments[0].GatewayResponse, []byte("750")) {
		t.Fatalf("gateway_response = %s, want the mismatched 750 capture recorded", payments[0].GatewayResponse)
	}

	corrected := completedCallback("TST2602", session.CartId, "800", fmt.Sprintf("%d", transaction.ID))
	result, err := models.HandleGatewayCallback(ctx, corrected)
	if err != nil {
		t.Fatalf("HandleGatewayCallback(corrected): %v", err)
	}
	if result.Status != models.PaymentStatusCompleted {
		t.Fatalf("corrected result = %+v, want completed", result)
	}
	assertLedger(t, ctx, customer.ID, 0, 2500)
}

func TestGatewayCallback_CashSettledBeforeCallback(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000008")
	customer := createActiveCustomer(t, ctx, "0551000008", 2500)
	transaction := createConfirmedTransaction(t, ctx, merchant, branch, customer, 800)

	gateway := &fakeGateway{tranRef: "TST2603"}
	session, err := models.InitiateGatewayPayment(ctx, gateway, customer.ID,
		[]int{transaction.ID}, decimal.NewFromInt(800), nil, "")
	if err != nil {
		t.Fatalf("InitiateGatewayPayment: %v", err)
	}

	// The customer walks in and pays cash before the webhook arrives.
	if _, err := models.MakePayment(ctx, customer.ID, transaction.ID, decimal.NewFromInt(800), models.PaymentMethodCash); err != nil {
		t.Fatalf("MakePayment: %v", err)
	}
	assertLedger(t, ctx, customer.ID, 0, 2500)

	payload := completedCallback("TST2603", session.CartId, "800", fmt.Sprintf("%d", transaction.ID))
	result, err := models.HandleGatewayCallback(ctx, payload)
	if err != nil {
		t.Fatalf("HandleGatewayCallback: %v", err)
	}
	if result.Status != models.PaymentStatusCompleted {
		t.Fatalf("result = %+v, want completed", result)
	}

	// Nothing was left to apply, so the ledger must not move again.
	assertLedger(t, ctx, customer.ID, 0, 2500)
	settled, err := models.GetTransactionForCustomer(ctx, customer.ID, transaction.ID)
	if err != nil {
		t.Fatalf("GetTransactionForCustomer: %v", err)
	}
	if settled.Status != models.TransactionStatusPaid {
		t.Fatalf("status = %s, want paid", settled.Status)
	}
	if !settled.PaidAmount.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("paid_amount = %s, want 800", settled.PaidAmount)
	}
}

/* Settlements */

func TestSettlement_PinsMembersAndRejectUnpins(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000005")
	customer := createActiveCustomer(t, ctx, "0551000005", 5000)

	first := createConfirmedTransaction(t, ctx, merchant, branch, customer, 1000)
	second := createConfirmedTransaction(t, ctx, merchant, branch, customer, 500)
	if _, err := models.MakePayment(ctx, customer.ID, first.ID, decimal.NewFromInt(1000), models.PaymentMethodCash); err != nil {
		t.Fatalf("MakePayment: %v", err)
	}
	if _, err := models.ProcessReturn(ctx, merchant.ID, second.ID, &models.NewTransactionReturn{
		ReturnAmount: decimal.NewFromInt(100),
		Reason:       "damaged",
	}); err != nil {
		t.Fatalf("ProcessReturn: %v", err)
	}

	now := time.Now().UTC()
	periodStart := now.AddDate(0, 0, -7)
	periodEnd := now.AddDate(0, 0, 1)

	settlement, err := models.CreateSettlement(ctx, merchant.ID, branch.ID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("CreateSettlement: %v", err)
	}
	if settlement.TransactionCount != 2 {
		t.Fatalf("transaction_count = %d, want 2", settlement.TransactionCount)
	}
	if !settlement.GrossAmount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("gross = %s, want 1500", settlement.GrossAmount)
	}
	if !settlement.ReturnsAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("returns = %s, want 100", settlement.ReturnsAmount)
	}
	// (1500-100) * 2.5% = 35, net 1365.
	if !settlement.CommissionAmount.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("commission = %s, want 35", settlement.CommissionAmount)
	}
	if !settlement.NetAmount.Equal(decimal.NewFromInt(1365)) {
		t.Fatalf("net = %s, want 1365", settlement.NetAmount)
	}

	// Members are pinned; a second batch over the same period finds nothing.
	if _, err := models.CreateSettlement(ctx, merchant.ID, branch.ID, periodStart, periodEnd); utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Fatalf("second batch error kind = %v, want NotFound", utils.KindOf(err))
	}

	// Reject unpins so the members can be re-batched.
	if _, err := models.RejectSettlement(ctx, settlement.ID, "wrong period", 1); err != nil {
		t.Fatalf("RejectSettlement: %v", err)
	}
	rebatch, err := models.CreateSettlement(ctx, merchant.ID, branch.ID, periodStart, periodEnd)
	if err != nil {
		t.Fatalf("CreateSettlement(rebatch): %v", err)
	}
	if rebatch.TransactionCount != 2 {
		t.Fatalf("rebatch transaction_count = %d, want 2", rebatch.TransactionCount)
	}

	// Approve then transfer.
	if _, err := models.ApproveSettlement(ctx, rebatch.ID, 1); err != nil {
		t.Fatalf("ApproveSettlement: %v", err)
	}
	transferred, err := models.MarkSettlementTransferred(ctx, rebatch.ID, "BNK-REF-1", 1)
	if err != nil {
		t.Fatalf("MarkSettlementTransferred: %v", err)
	}
	if transferred.Status != models.SettlementStatusTransferred {
		t.Fatalf("status = %s, want transferred", transferred.Status)
	}
	// Approving a transferred settlement is invalid.
	if _, err := models.ApproveSettlement(ctx, rebatch.ID, 1); utils.KindOf(err) != utils.ErrorKindInvalidState {
		t.Fatalf("approve after transfer kind = %v, want InvalidState", utils.KindOf(err))
	}
}

/* Overdue sweep */

func TestMarkOverdueTransactions(t *testing.T) {
	setupIntegration(t)
	ctx := context.Background()

	merchant, branch := createActiveMerchantAndBranch(t, ctx, "1010000006")
	customer := createActiveCustomer(t, ctx, "0551000006", 2500)
	transaction := createConfirmedTransaction(t, ctx, merchant, branch, customer, 600)

	db := config.GetDB()
	past := time.Now().UTC().AddDate(0, 0, -3)
	if err := db.Model(&models.Transaction{}).Where("id = ?", transaction.ID).
		Update("due_date", past).Error; err != nil {
		t.Fatalf("backdate due_date: %v", err)
	}

	count, err := models.MarkOverdueTransactions(ctx)
	if err != nil {
		t.Fatalf("MarkOverdueTransactions: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	overdue, err := models.GetTransactionForCustomer(ctx, customer.ID, transaction.ID)
	if err != nil {
		t.Fatalf("GetTransactionForCustomer: %v", err)
	}
	if overdue.Status != models.TransactionStatusOverdue {
		t.Fatalf("status = %s, want overdue", overdue.Status)
	}
	// Credit stays reserved while overdue.
	assertLedger(t, ctx, customer.ID, 600, 1900)

	// A reminder landed in the outbox.
	var reminders int64
	if err := db.Model(&models.Notification{}).
		Where("customer_id = ? AND type = ?", customer.ID, models.NotificationTypePaymentReminder).
		Count(&reminders).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if reminders == 0 {
		t.Fatal("no payment_reminder notification queued")
	}

	// Overdue transactions still accept payment and release their hold.
	if _, err := models.MakePayment(ctx, customer.ID, transaction.ID, decimal.NewFromInt(600), models.PaymentMethodBankTransfer); err != nil {
		t.Fatalf("MakePayment on overdue: %v", err)
	}
	assertLedger(t, ctx, customer.ID, 0, 2500)
}

/* docker helpers */

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("bariq-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("bariq-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=bariq_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
