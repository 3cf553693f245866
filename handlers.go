package main

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/models"
	"github.com/bariqhq/bnpl_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// respondError maps the operation error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch utils.KindOf(err) {
	case utils.ErrorKindNotFound:
		status = http.StatusNotFound
	case utils.ErrorKindValidation, utils.ErrorKindAmountMismatch:
		status = http.StatusBadRequest
	case utils.ErrorKindInvalidState, utils.ErrorKindDuplicate:
		status = http.StatusConflict
	case utils.ErrorKindInsufficientCredit:
		status = http.StatusUnprocessableEntity
	case utils.ErrorKindExternalService:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		config.LogError(config.GetLogger(), "server", "respondError", c.FullPath(), nil, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(utils.KindOf(err))})
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) *int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}

func queryDate(c *gin.Context, name string) *time.Time {
	if v := c.Query(name); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			return &t
		}
	}
	return nil
}

func pagination(c *gin.Context) (limit int, offset int) {
	limit = 20
	if v := queryInt(c, "limit"); v != nil {
		limit = *v
	}
	if v := queryInt(c, "offset"); v != nil {
		offset = *v
	}
	return limit, offset
}

func listResponse(c *gin.Context, items interface{}, total int64) {
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
}

/* Customers */

func createCustomerHandler(c *gin.Context) {
	var input models.NewCustomer
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	customer, err := models.CreateCustomer(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func getCustomersHandler(c *gin.Context) {
	var status *models.CustomerStatus
	if v := c.Query("status"); v != "" {
		s := models.CustomerStatus(v)
		status = &s
	}
	var search *string
	if v := c.Query("search"); v != "" {
		search = &v
	}
	customers, err := models.GetCustomers(c.Request.Context(), status, search)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customers)
}

func getCustomerHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	customer, err := models.GetCustomer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func getCustomerByBariqIdHandler(c *gin.Context) {
	customer, err := models.GetCustomerByBariqId(c.Request.Context(), c.Param("bariqId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func updateCustomerStatusHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Status models.CustomerStatus `json:"status" binding:"required"`
		Reason string                `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	customer, err := models.UpdateCustomerStatus(c.Request.Context(), id, body.Status, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func setCreditLimitHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		CreditLimit decimal.Decimal `json:"credit_limit" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	customer, err := models.SetCreditLimit(c.Request.Context(), id, body.CreditLimit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func updateDeviceTokenHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		DeviceToken string `json:"device_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.UpdateCustomerDeviceToken(c.Request.Context(), id, body.DeviceToken); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func setNotificationsEnabledHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := models.SetCustomerNotificationsEnabled(c.Request.Context(), id, *body.Enabled); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func getCustomerDebtHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	debt, err := models.GetCustomerDebtSummary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, debt)
}

func getCustomerStatsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	stats, err := models.GetCustomerTransactionStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func getCustomerNotificationsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	unreadOnly := c.Query("unread") == "true"
	notifications, total, err := models.GetCustomerNotifications(c.Request.Context(), id, unreadOnly, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, notifications, total)
}

func markNotificationReadHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	notificationId, ok := pathId(c, "notificationId")
	if !ok {
		return
	}
	if err := models.MarkNotificationRead(c.Request.Context(), id, notificationId); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func markAllNotificationsReadHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	count, err := models.MarkAllNotificationsRead(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": count})
}

/* Merchants and branches */

func createMerchantHandler(c *gin.Context) {
	var input models.NewMerchant
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	merchant, err := models.CreateMerchant(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, merchant)
}

func getMerchantsHandler(c *gin.Context) {
	var status *models.MerchantStatus
	if v := c.Query("status"); v != "" {
		s := models.MerchantStatus(v)
		status = &s
	}
	merchants, err := models.GetMerchants(c.Request.Context(), status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, merchants)
}

func getMerchantHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	merchant, err := models.GetMerchant(c.Request.Context(), id, "Branches")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, merchant)
}

func updateMerchantStatusHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		Status models.MerchantStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	merchant, err := models.UpdateMerchantStatus(c.Request.Context(), id, body.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, merchant)
}

func updateCommissionRateHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		CommissionRate decimal.Decimal `json:"commission_rate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	merchant, err := models.UpdateMerchantCommissionRate(c.Request.Context(), id, body.CommissionRate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, merchant)
}

func createBranchHandler(c *gin.Context) {
	var input models.NewBranch
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	branch, err := models.CreateBranch(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

func getBranchesHandler(c *gin.Context) {
	branches, err := models.GetBranches(c.Request.Context(), queryInt(c, "merchant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, branches)
}

func setBranchActiveHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	branch, err := models.SetBranchActive(c.Request.Context(), id, *body.IsActive)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, branch)
}

/* Transactions */

func createTransactionHandler(c *gin.Context) {
	var input models.NewTransaction
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	transaction, err := models.CreateTransaction(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, transaction)
}

func getTransactionsHandler(c *gin.Context) {
	limit, offset := pagination(c)
	filter := models.TransactionFilter{
		CustomerId: queryInt(c, "customer_id"),
		MerchantId: queryInt(c, "merchant_id"),
		BranchId:   queryInt(c, "branch_id"),
		FromDate:   queryDate(c, "from"),
		ToDate:     queryDate(c, "to"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := c.Query("status"); v != "" {
		s := models.TransactionStatus(v)
		filter.Status = &s
	}
	transactions, total, err := models.GetTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, transactions, total)
}

func getCustomerTransactionsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	filter := models.TransactionFilter{
		CustomerId: &id,
		FromDate:   queryDate(c, "from"),
		ToDate:     queryDate(c, "to"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := c.Query("status"); v != "" {
		s := models.TransactionStatus(v)
		filter.Status = &s
	}
	transactions, total, err := models.GetTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, transactions, total)
}

func getCustomerTransactionHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactionId, ok := pathId(c, "transactionId")
	if !ok {
		return
	}
	transaction, err := models.GetTransactionForCustomer(c.Request.Context(), id, transactionId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

func confirmTransactionHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactionId, ok := pathId(c, "transactionId")
	if !ok {
		return
	}
	transaction, err := models.ConfirmTransaction(c.Request.Context(), id, transactionId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

func rejectTransactionHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactionId, ok := pathId(c, "transactionId")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	transaction, err := models.RejectTransaction(c.Request.Context(), id, transactionId, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

func getMerchantTransactionsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	filter := models.TransactionFilter{
		MerchantId: &id,
		BranchId:   queryInt(c, "branch_id"),
		FromDate:   queryDate(c, "from"),
		ToDate:     queryDate(c, "to"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := c.Query("status"); v != "" {
		s := models.TransactionStatus(v)
		filter.Status = &s
	}
	transactions, total, err := models.GetTransactions(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, transactions, total)
}

func getMerchantTransactionHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactionId, ok := pathId(c, "transactionId")
	if !ok {
		return
	}
	transaction, err := models.GetTransactionForMerchant(c.Request.Context(), id, transactionId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

func cancelTransactionHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactionId, ok := pathId(c, "transactionId")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	transaction, err := models.CancelTransaction(c.Request.Context(), id, transactionId, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

/* Returns */

func processReturnHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactionId, ok := pathId(c, "transactionId")
	if !ok {
		return
	}
	var input models.NewTransactionReturn
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ret, err := models.ProcessReturn(c.Request.Context(), id, transactionId, &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ret)
}

func getMerchantReturnsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	returns, total, err := models.GetMerchantReturns(c.Request.Context(), models.ReturnFilter{
		MerchantId: id,
		BranchId:   queryInt(c, "branch_id"),
		FromDate:   queryDate(c, "from"),
		ToDate:     queryDate(c, "to"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, returns, total)
}

/* Payments */

func applyPaymentHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		TransactionIds []int                `json:"transaction_ids"`
		Amount         decimal.Decimal      `json:"amount" binding:"required"`
		PaymentMethod  models.PaymentMethod `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := models.ApplyPayment(c.Request.Context(), id, body.TransactionIds, body.Amount, body.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func makePaymentHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transactionId, ok := pathId(c, "transactionId")
	if !ok {
		return
	}
	var body struct {
		Amount        decimal.Decimal      `json:"amount" binding:"required"`
		PaymentMethod models.PaymentMethod `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := models.MakePayment(c.Request.Context(), id, transactionId, body.Amount, body.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func getCustomerPaymentsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	limit, offset := pagination(c)
	filter := models.PaymentFilter{
		CustomerId: &id,
		FromDate:   queryDate(c, "from"),
		ToDate:     queryDate(c, "to"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := c.Query("status"); v != "" {
		s := models.PaymentStatus(v)
		filter.Status = &s
	}
	payments, total, err := models.GetPayments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, payments, total)
}

func getPaymentsHandler(c *gin.Context) {
	limit, offset := pagination(c)
	filter := models.PaymentFilter{
		CustomerId: queryInt(c, "customer_id"),
		FromDate:   queryDate(c, "from"),
		ToDate:     queryDate(c, "to"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := c.Query("status"); v != "" {
		s := models.PaymentStatus(v)
		filter.Status = &s
	}
	payments, total, err := models.GetPayments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, payments, total)
}

func getPaymentStatisticsHandler(c *gin.Context) {
	stats, err := models.GetPaymentStatistics(c.Request.Context(), queryDate(c, "from"), queryDate(c, "to"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

/* Gateway */

func initiateGatewayPaymentHandler(client models.GatewayClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			CustomerId     int             `json:"customer_id" binding:"required"`
			TransactionIds []int           `json:"transaction_ids"`
			Amount         decimal.Decimal `json:"amount" binding:"required"`
			PaymentMethods []string        `json:"payment_methods"`
			Description    string          `json:"description"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		session, err := models.InitiateGatewayPayment(c.Request.Context(), client,
			body.CustomerId, body.TransactionIds, body.Amount, body.PaymentMethods, body.Description)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

// gatewayCallbackHandler is the provider webhook. The signature covers the raw
// body, so the body must be verified before it is parsed.
func gatewayCallbackHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	signature := c.GetHeader("Signature")
	if signature == "" {
		signature = c.GetHeader("signature")
	}
	if !models.VerifyWebhookSignature(body, signature) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload models.GatewayCallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	payload.Raw = body

	result, err := models.HandleGatewayCallback(c.Request.Context(), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func verifyGatewayPaymentHandler(client models.GatewayClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentId, ok := pathId(c, "paymentId")
		if !ok {
			return
		}
		result, err := models.VerifyGatewayPayment(c.Request.Context(), client, paymentId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func refundGatewayPaymentHandler(client models.GatewayClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			TranRef string          `json:"tran_ref" binding:"required"`
			Amount  decimal.Decimal `json:"amount" binding:"required"`
			Reason  string          `json:"reason"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		outcome, err := models.RefundGatewayPayment(c.Request.Context(), client, body.TranRef, body.Amount, body.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
	}
}

/* Settlements */

func createSettlementHandler(c *gin.Context) {
	var body struct {
		MerchantId  int    `json:"merchant_id" binding:"required"`
		BranchId    int    `json:"branch_id" binding:"required"`
		PeriodStart string `json:"period_start" binding:"required"`
		PeriodEnd   string `json:"period_end" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start, err := time.Parse("2006-01-02", body.PeriodStart)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_start"})
		return
	}
	end, err := time.Parse("2006-01-02", body.PeriodEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid period_end"})
		return
	}
	// The end date is inclusive.
	end = end.AddDate(0, 0, 1).Add(-time.Second)

	settlement, err := models.CreateSettlement(c.Request.Context(), body.MerchantId, body.BranchId, start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, settlement)
}

func getSettlementsHandler(c *gin.Context) {
	limit, offset := pagination(c)
	filter := models.SettlementFilter{
		MerchantId: queryInt(c, "merchant_id"),
		BranchId:   queryInt(c, "branch_id"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := c.Query("status"); v != "" {
		s := models.SettlementStatus(v)
		filter.Status = &s
	}
	settlements, total, err := models.GetSettlements(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	listResponse(c, settlements, total)
}

func getSettlementDetailsHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	merchantId := 0
	if v := queryInt(c, "merchant_id"); v != nil {
		merchantId = *v
	}
	settlement, transactions, err := models.GetSettlementDetails(c.Request.Context(), id, merchantId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlement": settlement, "transactions": transactions})
}

func approveSettlementHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		AdminId int `json:"admin_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settlement, err := models.ApproveSettlement(c.Request.Context(), id, body.AdminId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settlement)
}

func rejectSettlementHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		AdminId int    `json:"admin_id" binding:"required"`
		Reason  string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settlement, err := models.RejectSettlement(c.Request.Context(), id, body.Reason, body.AdminId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settlement)
}

func transferSettlementHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body struct {
		AdminId           int    `json:"admin_id" binding:"required"`
		TransferReference string `json:"transfer_reference" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	settlement, err := models.MarkSettlementTransferred(c.Request.Context(), id, body.TransferReference, body.AdminId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settlement)
}

func getPendingSettlementHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	pending, err := models.GetPendingSettlementAmount(c.Request.Context(), id, queryInt(c, "branch_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pending)
}

func getSettlementStatisticsHandler(c *gin.Context) {
	stats, err := models.GetSettlementStatistics(c.Request.Context(), queryInt(c, "merchant_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
