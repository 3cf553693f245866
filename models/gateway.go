package models

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GatewayClient abstracts the hosted-payment-page provider so the callback
// and verification logic can be tested against a fake. Operations take the
// client as a parameter; nothing in this file reaches for a singleton.
type GatewayClient interface {
	CreateSession(ctx context.Context, req *GatewaySessionRequest) (*GatewaySessionResult, error)
	QueryStatus(ctx context.Context, tranRef string) (*GatewayStatusResult, error)
	Refund(ctx context.Context, req *GatewayRefundRequest) (*GatewayRefundResult, error)
}

type GatewaySessionRequest struct {
	CartId         string
	Description    string
	Amount         decimal.Decimal
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
	CustomerCity   string
	PaymentMethods []string
	CustomerId     int
	TransactionIds []int
	OriginalAmount decimal.Decimal
}

type GatewaySessionResult struct {
	TranRef     string
	RedirectUrl string
	RawResponse []byte
}

type GatewayStatusResult struct {
	TranRef        string
	ResponseStatus string
	CartId         string
	CartAmount     decimal.Decimal
	PaymentMethod  string
	Message        string
	RawResponse    []byte
}

type GatewayRefundRequest struct {
	TranRef string
	Amount  decimal.Decimal
	Reason  string
}

type GatewayRefundResult struct {
	Approved  bool
	RefundRef string
	Message   string
}

// mapGatewayStatus translates the provider's one-letter response status into
// an internal payment status. Unknown codes map to failed; money never moves
// on a status we do not recognize.
func mapGatewayStatus(code string) PaymentStatus {
	switch code {
	case "A":
		return PaymentStatusCompleted
	case "H", "P":
		return PaymentStatusPending
	case "V":
		return PaymentStatusVoided
	case "E":
		return PaymentStatusFailed
	case "D":
		return PaymentStatusDeclined
	}
	return PaymentStatusFailed
}

// VerifyWebhookSignature checks the HMAC-SHA256 the provider sends with each
// callback, computed over the raw request body with the server key.
func VerifyWebhookSignature(body []byte, signature string) bool {
	serverKey := config.GetGatewayConfig().ServerKey
	if serverKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(serverKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

/* PayTabs client */

type paytabsClient struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
}

// NewPayTabsClient builds the production gateway client from env config.
func NewPayTabsClient() GatewayClient {
	cfg := config.GetGatewayConfig()
	return &paytabsClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *paytabsClient) post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseUrl()+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", c.cfg.ServerKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, resp.StatusCode, err
	}
	return buf.Bytes(), resp.StatusCode, nil
}

func (c *paytabsClient) CreateSession(ctx context.Context, req *GatewaySessionRequest) (*GatewaySessionResult, error) {
	email := req.CustomerEmail
	if email == "" {
		email = fmt.Sprintf("customer-%d@bariq.sa", req.CustomerId)
	}
	city := req.CustomerCity
	if city == "" {
		city = "Riyadh"
	}

	txnRefs := make([]string, len(req.TransactionIds))
	for i, id := range req.TransactionIds {
		txnRefs[i] = strconv.Itoa(id)
	}

	payload := map[string]interface{}{
		"profile_id":       c.cfg.ProfileId,
		"tran_type":        "sale",
		"tran_class":       "ecom",
		"cart_id":          req.CartId,
		"cart_description": req.Description,
		"cart_currency":    c.cfg.Currency,
		"cart_amount":      req.Amount.InexactFloat64(),
		"callback":         c.cfg.CallbackUrl,
		"return":           c.cfg.ReturnUrl,
		"hide_shipping":    true,
		"customer_details": map[string]string{
			"name":    req.CustomerName,
			"email":   email,
			"phone":   req.CustomerPhone,
			"street1": "Saudi Arabia",
			"city":    city,
			"state":   city,
			"country": "SA",
			"zip":     "00000",
		},
		"user_defined": map[string]string{
			"udf1": strconv.Itoa(req.CustomerId),
			"udf2": strings.Join(txnRefs, ","),
			"udf3": req.OriginalAmount.String(),
			"udf4": "bariq_payment",
			"udf5": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if len(req.PaymentMethods) > 0 {
		payload["payment_methods"] = req.PaymentMethods
	}

	body, status, err := c.post(ctx, "/payment/request", payload)
	if err != nil {
		return nil, utils.ExternalServiceErr(err, "payment gateway unreachable")
	}

	var parsed struct {
		TranRef     string `json:"tran_ref"`
		RedirectUrl string `json:"redirect_url"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, utils.ExternalServiceErr(err, "invalid gateway response")
	}
	if status != http.StatusOK || parsed.RedirectUrl == "" {
		msg := parsed.Message
		if msg == "" {
			msg = "failed to create payment page"
		}
		return nil, utils.ExternalServiceErr(nil, "gateway rejected session: %s", msg)
	}
	return &GatewaySessionResult{
		TranRef:     parsed.TranRef,
		RedirectUrl: parsed.RedirectUrl,
		RawResponse: body,
	}, nil
}

func (c *paytabsClient) QueryStatus(ctx context.Context, tranRef string) (*GatewayStatusResult, error) {
	payload := map[string]interface{}{
		"profile_id": c.cfg.ProfileId,
		"tran_ref":   tranRef,
	}
	body, status, err := c.post(ctx, "/payment/query", payload)
	if err != nil {
		return nil, utils.ExternalServiceErr(err, "payment gateway unreachable")
	}
	if status != http.StatusOK {
		return nil, utils.ExternalServiceErr(nil, "gateway query failed with status %d", status)
	}

	var parsed struct {
		TranRef       string          `json:"tran_ref"`
		CartId        string          `json:"cart_id"`
		CartAmount    decimal.Decimal `json:"cart_amount"`
		PaymentResult struct {
			ResponseStatus  string `json:"response_status"`
			ResponseMessage string `json:"response_message"`
		} `json:"payment_result"`
		PaymentInfo struct {
			PaymentMethod string `json:"payment_method"`
		} `json:"payment_info"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, utils.ExternalServiceErr(err, "invalid gateway response")
	}
	return &GatewayStatusResult{
		TranRef:        tranRef,
		ResponseStatus: parsed.PaymentResult.ResponseStatus,
		CartId:         parsed.CartId,
		CartAmount:     parsed.CartAmount,
		PaymentMethod:  parsed.PaymentInfo.PaymentMethod,
		Message:        parsed.PaymentResult.ResponseMessage,
		RawResponse:    body,
	}, nil
}

func (c *paytabsClient) Refund(ctx context.Context, req *GatewayRefundRequest) (*GatewayRefundResult, error) {
	payload := map[string]interface{}{
		"profile_id":       c.cfg.ProfileId,
		"tran_type":        "refund",
		"tran_class":       "ecom",
		"cart_id":          "REFUND-" + req.TranRef,
		"cart_currency":    c.cfg.Currency,
		"cart_amount":      req.Amount.InexactFloat64(),
		"cart_description": req.Reason,
		"tran_ref":         req.TranRef,
	}
	body, status, err := c.post(ctx, "/payment/request", payload)
	if err != nil {
		return nil, utils.ExternalServiceErr(err, "payment gateway unreachable")
	}

	var parsed struct {
		TranRef       string `json:"tran_ref"`
		Message       string `json:"message"`
		PaymentResult struct {
			ResponseStatus  string `json:"response_status"`
			ResponseMessage string `json:"response_message"`
		} `json:"payment_result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, utils.ExternalServiceErr(err, "invalid gateway response")
	}
	if status != http.StatusOK {
		msg := parsed.Message
		if msg == "" {
			msg = "refund request failed"
		}
		return &GatewayRefundResult{Approved: false, Message: msg}, nil
	}
	return &GatewayRefundResult{
		Approved:  parsed.PaymentResult.ResponseStatus == "A",
		RefundRef: parsed.TranRef,
		Message:   parsed.PaymentResult.ResponseMessage,
	}, nil
}

/* Operations */

type gatewaySessionMetadata struct {
	CartId         string `json:"cart_id"`
	TransactionIds []int  `json:"transaction_ids"`
	RedirectUrl    string `json:"redirect_url"`
}

type GatewayPaymentSession struct {
	PaymentId  int             `json:"payment_id"`
	PaymentUrl string          `json:"payment_url"`
	TranRef    string          `json:"tran_ref"`
	CartId     string          `json:"cart_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

// InitiateGatewayPayment creates a hosted payment page for one or more of the
// customer's outstanding transactions and records a pending payment carrying
// the gateway reference. No ledger or transaction state moves here; that
// waits for the callback.
func InitiateGatewayPayment(ctx context.Context, client GatewayClient, customerId int, transactionIds []int, amount decimal.Decimal, paymentMethods []string, description string) (*GatewayPaymentSession, error) {
	if !amount.IsPositive() {
		return nil, utils.ValidationErr("payment amount must be positive")
	}
	minAmount := config.MinGatewayPaymentAmount()
	if amount.LessThan(minAmount) {
		return nil, utils.ValidationErr("minimum payment amount is %s SAR", minAmount.String())
	}

	customer, err := GetCustomer(ctx, customerId)
	if err != nil {
		return nil, err
	}

	transactionIds = utils.UniqueSlice(transactionIds)
	db := config.GetDB()
	var transactions []*Transaction
	if err := db.WithContext(ctx).
		Where("id IN ? AND customer_id = ? AND status IN ?", transactionIds, customerId,
			[]TransactionStatus{TransactionStatusConfirmed, TransactionStatusOverdue}).
		Order("due_date ASC, id ASC").
		Find(&transactions).Error; err != nil {
		return nil, err
	}
	if len(transactions) == 0 {
		return nil, utils.NotFoundErr("no payable transactions found")
	}

	totalRemaining := decimal.Zero
	targetIds := make([]int, 0, len(transactions))
	for _, txn := range transactions {
		totalRemaining = totalRemaining.Add(txn.RemainingAmount())
		targetIds = append(targetIds, txn.ID)
	}
	if amount.GreaterThan(totalRemaining) {
		return nil, utils.ValidationErr(
			"amount exceeds total remaining balance of %s SAR", totalRemaining.String())
	}

	if description == "" {
		if len(transactions) == 1 {
			description = fmt.Sprintf("Payment for transaction %s", transactions[0].ReferenceNumber)
		} else {
			description = fmt.Sprintf("Payment for %d transactions", len(transactions))
		}
	}

	cartId := fmt.Sprintf("BARIQ-%s-%s", customer.BariqId, time.Now().UTC().Format("20060102150405"))
	session, err := client.CreateSession(ctx, &GatewaySessionRequest{
		CartId:         cartId,
		Description:    description,
		Amount:         amount,
		CustomerName:   customer.FullName,
		CustomerEmail:  customer.Email,
		CustomerPhone:  customer.Phone,
		CustomerCity:   customer.City,
		PaymentMethods: paymentMethods,
		CustomerId:     customerId,
		TransactionIds: targetIds,
		OriginalAmount: amount,
	})
	if err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(gatewaySessionMetadata{
		CartId:         cartId,
		TransactionIds: targetIds,
		RedirectUrl:    session.RedirectUrl,
	})
	if err != nil {
		return nil, err
	}

	payment := Payment{
		TransactionId:    targetIds[0],
		CustomerId:       customerId,
		Amount:           amount,
		PaymentMethod:    PaymentMethodGateway,
		Status:           PaymentStatusPending,
		GatewayReference: &session.TranRef,
		GatewayResponse:  metadata,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		return createPaymentWithReference(tx, ctx, &payment)
	})
	if err != nil {
		return nil, err
	}

	return &GatewayPaymentSession{
		PaymentId:  payment.ID,
		PaymentUrl: session.RedirectUrl,
		TranRef:    session.TranRef,
		CartId:     cartId,
		Amount:     amount,
		Currency:   config.GetGatewayConfig().Currency,
	}, nil
}

// GatewayCallbackPayload mirrors the provider's webhook body. The same shape
// is synthesized by VerifyGatewayPayment from a status query so both entry
// points share one outcome path.
type GatewayCallbackPayload struct {
	TranRef       string          `json:"tran_ref"`
	TranType      string          `json:"tran_type"`
	CartId        string          `json:"cart_id"`
	CartAmount    decimal.Decimal `json:"cart_amount"`
	CartCurrency  string          `json:"cart_currency"`
	PaymentResult struct {
		ResponseStatus  string `json:"response_status"`
		ResponseCode    string `json:"response_code"`
		ResponseMessage string `json:"response_message"`
	} `json:"payment_result"`
	PaymentInfo struct {
		PaymentMethod string `json:"payment_method"`
	} `json:"payment_info"`
	UserDefined struct {
		Udf1 string `json:"udf1"`
		Udf2 string `json:"udf2"`
		Udf3 string `json:"udf3"`
	} `json:"user_defined"`
	Raw []byte `json:"-"`
}

type GatewayCallbackResult struct {
	PaymentId        int           `json:"payment_id"`
	Status           PaymentStatus `json:"status"`
	AlreadyProcessed bool          `json:"already_processed"`
}

// HandleGatewayCallback processes a webhook delivery. Replays against a
// payment that already reached a terminal status are absorbed as no-op
// successes so the provider's retries stay harmless. A completed status with
// a cart amount different from the recorded payment amount fails closed: the
// payment stays pending and nothing is applied to the ledger.
func HandleGatewayCallback(ctx context.Context, payload *GatewayCallbackPayload) (*GatewayCallbackResult, error) {
	if payload.TranRef == "" {
		return nil, utils.ValidationErr("tran_ref is required")
	}

	db := config.GetDB()
	var result GatewayCallbackResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var payment Payment
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("gateway_reference = ?", payload.TranRef).
			First(&payment).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return utils.NotFoundErr("payment with gateway reference %s not found", payload.TranRef)
			}
			return err
		}
		result.PaymentId = payment.ID

		if payment.Status.IsSettled() {
			result.Status = payment.Status
			result.AlreadyProcessed = true
			return nil
		}

		return applyGatewayOutcome(tx, ctx, &payment, payload, &result)
	})
	if err != nil {
		// The rollback above discards every in-tx write, so the mismatched
		// capture is recorded on the payment row separately for review.
		if utils.KindOf(err) == utils.ErrorKindAmountMismatch && result.PaymentId != 0 {
			updateErr := db.WithContext(ctx).Model(&Payment{}).Where("id = ?", result.PaymentId).
				Update("gateway_response", rawCallbackResponse(payload)).Error
			if updateErr != nil {
				config.LogError(config.GetLogger(), "models", "HandleGatewayCallback",
					"record mismatched response", result.PaymentId, updateErr)
			}
		}
		return nil, err
	}
	return &result, nil
}

func rawCallbackResponse(payload *GatewayCallbackPayload) []byte {
	if len(payload.Raw) > 0 {
		return payload.Raw
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// applyGatewayOutcome is the single place a gateway-reported status changes
// local state. Both the webhook and the active verification path funnel here.
func applyGatewayOutcome(tx *gorm.DB, ctx context.Context, payment *Payment, payload *GatewayCallbackPayload, result *GatewayCallbackResult) error {
	status := mapGatewayStatus(payload.PaymentResult.ResponseStatus)
	rawResponse := rawCallbackResponse(payload)

	if status == PaymentStatusCompleted {
		if !payload.CartAmount.Equal(payment.Amount) {
			// Fail closed: the payment stays pending, nothing is applied.
			return utils.AmountMismatchErr(
				"gateway reported %s SAR but payment %d was created for %s SAR",
				payload.CartAmount.String(), payment.ID, payment.Amount.String())
		}
		if err := settleGatewayPayment(tx, ctx, payment, payload); err != nil {
			return err
		}
	}

	method := payment.PaymentMethod
	if payload.PaymentInfo.PaymentMethod != "" {
		method = PaymentMethod(strings.ToLower(payload.PaymentInfo.PaymentMethod))
		if !ValidPaymentMethod(method) {
			method = PaymentMethodGateway
		}
	}
	updates := map[string]interface{}{
		"status":           status,
		"payment_method":   method,
		"gateway_response": rawResponse,
	}
	if status == PaymentStatusCompleted {
		updates["completed_at"] = time.Now().UTC()
	}
	if err := tx.WithContext(ctx).Model(&Payment{}).Where("id = ?", payment.ID).
		Updates(updates).Error; err != nil {
		return err
	}
	result.Status = status
	return nil
}

// settleGatewayPayment distributes a completed gateway payment across the
// transactions named in the session metadata, oldest due first, and releases
// the applied total from the customer's credit hold.
func settleGatewayPayment(tx *gorm.DB, ctx context.Context, payment *Payment, payload *GatewayCallbackPayload) error {
	transactionIds := parseTransactionIds(payload.UserDefined.Udf2)
	if len(transactionIds) == 0 {
		var metadata gatewaySessionMetadata
		if err := json.Unmarshal(payment.GatewayResponse, &metadata); err == nil {
			transactionIds = metadata.TransactionIds
		}
	}
	if len(transactionIds) == 0 {
		transactionIds = []int{payment.TransactionId}
	}

	var transactions []*Transaction
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ? AND customer_id = ?", transactionIds, payment.CustomerId).
		Order("due_date ASC, id ASC").
		Find(&transactions).Error; err != nil {
		return err
	}
	if len(transactions) == 0 {
		return utils.NotFoundErr("transactions for payment %d not found", payment.ID)
	}

	targets := make([]allocationTarget, 0, len(transactions))
	byId := make(map[int]*Transaction, len(transactions))
	for _, txn := range transactions {
		// A transaction may have been settled by cash in the meantime; skip
		// anything no longer payable instead of failing the whole callback.
		if !txn.Status.IsOutstanding() {
			continue
		}
		byId[txn.ID] = txn
		targets = append(targets, allocationTarget{
			TransactionId: txn.ID,
			DueDate:       txn.DueDate,
			Remaining:     txn.RemainingAmount(),
		})
	}

	now := time.Now().UTC()
	totalApplied := decimal.Zero
	appliedCount := 0
	for _, allocation := range allocateOldestFirst(targets, payment.Amount) {
		txn := byId[allocation.TransactionId]
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
		totalApplied = totalApplied.Add(allocation.Amount)
		appliedCount++
	}

	if totalApplied.IsPositive() {
		if err := releaseCredit(tx, ctx, payment.CustomerId, totalApplied); err != nil {
			return err
		}
	}

	if unapplied := payment.Amount.Sub(totalApplied); unapplied.IsPositive() {
		config.GetLogger().Warnf(
			"gateway payment %d captured %s SAR but only %s SAR was applied; %s SAR needs manual reconciliation",
			payment.ID, payment.Amount.String(), totalApplied.String(), unapplied.String())
	}
	if appliedCount == 0 {
		return nil
	}

	body := fmt.Sprintf("Payment of %s SAR received for %d transactions", totalApplied.String(), appliedCount)
	if appliedCount == 1 {
		for id := range byId {
			body = fmt.Sprintf("Payment of %s SAR received for transaction %s", totalApplied.String(), byId[id].ReferenceNumber)
			break
		}
	}
	return notify(tx, ctx, payment.CustomerId, "Payment Received Successfully",
		body, NotificationTypePayment, payment.ID)
}

func parseTransactionIds(csv string) []int {
	var ids []int
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// VerifyGatewayPayment actively queries the provider for a pending payment
// and replays the callback path with the reported status. Used when a webhook
// was missed or the return flow beat the callback.
func VerifyGatewayPayment(ctx context.Context, client GatewayClient, paymentId int) (*GatewayCallbackResult, error) {
	payment, err := utils.FetchModel[Payment](ctx, paymentId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("payment %d not found", paymentId)
		}
		return nil, err
	}
	if payment.GatewayReference == nil {
		return nil, utils.InvalidStateErr("payment %d has no gateway reference", paymentId)
	}
	if payment.Status.IsSettled() {
		return &GatewayCallbackResult{
			PaymentId:        payment.ID,
			Status:           payment.Status,
			AlreadyProcessed: true,
		}, nil
	}

	statusResult, err := client.QueryStatus(ctx, *payment.GatewayReference)
	if err != nil {
		return nil, err
	}

	payload := &GatewayCallbackPayload{
		TranRef:    *payment.GatewayReference,
		CartId:     statusResult.CartId,
		CartAmount: statusResult.CartAmount,
		Raw:        statusResult.RawResponse,
	}
	payload.PaymentResult.ResponseStatus = statusResult.ResponseStatus
	payload.PaymentResult.ResponseMessage = statusResult.Message
	payload.PaymentInfo.PaymentMethod = statusResult.PaymentMethod

	return HandleGatewayCallback(ctx, payload)
}

type GatewayRefundOutcome struct {
	RefundRef      string          `json:"refund_ref"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentId      int             `json:"payment_id"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
}

// RefundGatewayPayment pushes a partial or full refund through the provider
// and records it against the original payment. The transaction and ledger
// sides of a merchandise return are handled by ProcessReturn; this only moves
// the money back through the card rails.
func RefundGatewayPayment(ctx context.Context, client GatewayClient, gatewayRef string, amount decimal.Decimal, reason string) (*GatewayRefundOutcome, error) {
	if !amount.IsPositive() {
		return nil, utils.ValidationErr("refund amount must be positive")
	}

	payment, err := utils.FetchModelWhere[Payment](ctx, "gateway_reference = ?", gatewayRef)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, utils.NotFoundErr("payment with gateway reference %s not found", gatewayRef)
		}
		return nil, err
	}
	if payment.Status != PaymentStatusCompleted && payment.Status != PaymentStatusRefunded {
		return nil, utils.InvalidStateErr("can only refund completed payments, not %s", payment.Status)
	}
	refundable := payment.Amount.Sub(payment.RefundedAmount)
	if amount.GreaterThan(refundable) {
		return nil, utils.ValidationErr("refund amount exceeds refundable %s SAR", refundable.String())
	}

	if reason == "" {
		reason = "Refund"
	}
	refundResult, err := client.Refund(ctx, &GatewayRefundRequest{
		TranRef: gatewayRef,
		Amount:  amount,
		Reason:  reason,
	})
	if err != nil {
		return nil, err
	}
	if !refundResult.Approved {
		return nil, utils.ExternalServiceErr(nil, "gateway declined refund: %s", refundResult.Message)
	}

	db := config.GetDB()
	newRefunded := payment.RefundedAmount.Add(amount)
	updates := map[string]interface{}{"refunded_amount": newRefunded}
	if newRefunded.GreaterThanOrEqual(payment.Amount) {
		updates["status"] = PaymentStatusRefunded
	}
	if err := db.WithContext(ctx).Model(&Payment{}).Where("id = ?", payment.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	return &GatewayRefundOutcome{
		RefundRef:      refundResult.RefundRef,
		Amount:         amount,
		PaymentId:      payment.ID,
		RefundedAmount: newRefunded,
	}, nil
}
